package aiko

import "testing"

func TestNewProcessAppliesDefaultsWithoutConnecting(t *testing.T) {
	p, err := NewProcess("")
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	if p.Config.Namespace != "aiko" {
		t.Fatalf("Namespace = %q, want aiko", p.Config.Namespace)
	}
	if p.Registrar == nil {
		t.Fatal("expected a constructed Registrar before Connect")
	}
	if p.Bus == nil {
		t.Fatal("expected a constructed transport Client before Connect")
	}
}

func TestNewProcessRejectsMissingConfigFile(t *testing.T) {
	if _, err := NewProcess("/nonexistent/path/aiko.yaml"); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
