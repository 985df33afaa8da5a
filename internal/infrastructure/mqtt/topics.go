package mqtt

import "strings"

// Topics holds the topic names derived from the device configuration.
//
//	topics := mqtt.NewTopics("uSync", "001122334455")
//	// topics.Venue   == "uSync/venue"
//	// topics.Stats   == "uSync/stats"
//	// topics.Command == "001122334455/cmd"
type Topics struct {
	// Venue carries venue-wide status in both directions.
	Venue string

	// Stats receives this device's statistics.
	Stats string

	// Command delivers commands addressed to this device.
	Command string
}

// NewTopics derives the topic names for a venue and device serial.
func NewTopics(venue, serial string) Topics {
	return Topics{
		Venue:   venue + "/venue",
		Stats:   venue + "/stats",
		Command: serial + "/cmd",
	}
}

// Subscriptions returns the topics the bridge subscribes to after connecting.
func (t Topics) Subscriptions() []string {
	return []string{t.Venue, t.Command}
}

// Match reports whether topic matches the subscription filter.
//
// Filters may use the MQTT wildcards:
//   - + matches exactly one level
//   - # matches any number of trailing levels, including none
//
// Topics starting with $ are not matched by a leading wildcard.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
