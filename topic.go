package thingshadow

import (
	"fmt"
	"strings"
)

const (
	topicPrefix   = "$aws/things/"
	shadowSegment = "/shadow/"

	// MaxThingNameLength is the longest thing name accepted by the shadow service.
	MaxThingNameLength = 128
)

// ResponseKind is the suffix of a shadow response topic.
type ResponseKind int

const (
	ResponseAccepted ResponseKind = iota
	ResponseRejected
	ResponseDelta
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAccepted:
		return "accepted"
	case ResponseRejected:
		return "rejected"
	case ResponseDelta:
		return "delta"
	default:
		return "unknown"
	}
}

var responseSuffixes = map[string]ResponseKind{
	"accepted": ResponseAccepted,
	"rejected": ResponseRejected,
	"delta":    ResponseDelta,
}

// ValidateThingName checks a thing name against the characters allowed by the
// shadow service: letters, digits, ':', '_' and '-'.
func ValidateThingName(name string) error {
	if name == "" {
		return ErrNoThingName
	}
	if len(name) > MaxThingNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidThingName, MaxThingNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ':' || r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: character %q", ErrInvalidThingName, r)
		}
	}
	return nil
}

// RequestTopic returns the topic a request for action is published on,
// e.g. $aws/things/<thing>/shadow/update.
func RequestTopic(thingName string, action Action) string {
	return topicPrefix + thingName + shadowSegment + action.String()
}

// ResponseTopic returns the topic a response of the given kind arrives on,
// e.g. $aws/things/<thing>/shadow/update/accepted.
func ResponseTopic(thingName string, action Action, kind ResponseKind) string {
	return RequestTopic(thingName, action) + "/" + kind.String()
}

// shadowTopic is a parsed shadow response topic.
type shadowTopic struct {
	thingName string
	action    Action
	kind      ResponseKind
}

func (t shadowTopic) String() string {
	return ResponseTopic(t.thingName, t.action, t.kind)
}

// parseShadowTopic splits $aws/things/<thing>/shadow/<action>/<kind>.
func parseShadowTopic(topic string) (shadowTopic, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return shadowTopic{}, false
	}

	rest := topic[len(topicPrefix):]
	idx := strings.Index(rest, shadowSegment)
	if idx <= 0 {
		return shadowTopic{}, false
	}

	thing := rest[:idx]
	parts := strings.Split(rest[idx+len(shadowSegment):], "/")
	if len(parts) != 2 {
		return shadowTopic{}, false
	}

	var action Action
	switch parts[0] {
	case "update":
		action = ActionUpdate
	case "get":
		action = ActionGet
	case "delete":
		action = ActionDelete
	default:
		return shadowTopic{}, false
	}

	kind, ok := responseSuffixes[parts[1]]
	if !ok {
		return shadowTopic{}, false
	}
	if kind == ResponseDelta && action != ActionUpdate {
		return shadowTopic{}, false
	}

	return shadowTopic{thingName: thing, action: action, kind: kind}, true
}
