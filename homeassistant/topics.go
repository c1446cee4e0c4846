package homeassistant

import (
	"fmt"
	"strings"

	"github.com/victorjacobs/go-vallox/vallox"
)

// Topics lays out the MQTT topic tree. Prefix roots the bridge's own topics,
// Discovery is the Home Assistant discovery prefix.
type Topics struct {
	Prefix    string
	Discovery string
}

func (t Topics) State(id string) string {
	return fmt.Sprintf("%v/%v/state", t.Prefix, id)
}

func (t Topics) Command(id string) string {
	return fmt.Sprintf("%v/%v/set", t.Prefix, id)
}

// Commands is the subscription filter covering every command topic.
func (t Topics) Commands() string {
	return fmt.Sprintf("%v/+/set", t.Prefix)
}

func (t Topics) Availability() string {
	return t.Prefix + "/availability"
}

func (t Topics) Errors() string {
	return t.Prefix + "/error"
}

func (t Topics) Config(component vallox.Entity, uniqueId string) string {
	return fmt.Sprintf("%v/%v/%v/config", t.Discovery, component, uniqueId)
}

// EntityFromCommand extracts the entity id from a command topic.
func (t Topics) EntityFromCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
