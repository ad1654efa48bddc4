package service

import (
	"fmt"
	"strings"
)

// BasePath builds the topic prefix shared by one actor's in/out/state/log
// channels : <namespace>/<host>/<process-id>/<instance>.
func BasePath(namespace, host, processID, instance string) string {
	return fmt.Sprintf("%s/%s/%s/%s", namespace, host, processID, instance)
}

// Channel appends a channel suffix (in, out, state, log, …) to a base
// path.
func Channel(basePath, channel string) string {
	return basePath + "/" + channel
}

// Base strips the trailing channel segment from a full topic path,
// returning the actor's shared prefix.
func Base(topicPath string) string {
	i := strings.LastIndex(topicPath, "/")
	if i < 0 {
		return topicPath
	}
	return topicPath[:i]
}

// RegistrarTopic is the well-known topic every Service announces itself
// on and every Registrar primary election happens on.
func RegistrarTopic(namespace string) string {
	return namespace + "/service/registrar"
}
