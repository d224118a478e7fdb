package actor

// Kind identifies the category of a Message. The set is closed so
// transition tables can be laid out as dense arrays.
type Kind int

const (
	KindUnknown Kind = iota

	// Lifecycle of units.
	Start
	Stop
	Completed

	// Timers.
	Timer
	SelectTimer
	Tick

	// Transport notifications.
	Listening
	NotListening
	Connected
	NotConnected
	Accepted
	NotAccepted
	Closed
	Abandoned
	Close

	// Application exchange.
	Enquiry
	Ack
	Nak

	// Connector notifications.
	UsableAddress
	NotUsable
	AddressLost

	// Group notifications.
	GroupUpdate
	Ready
	NotReady

	// Outcome reports an exchange result to an owner without completing.
	Outcome

	// Other matches any kind in Select.
	Other

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:   "Unknown",
	Start:         "Start",
	Stop:          "Stop",
	Completed:     "Completed",
	Timer:         "Timer",
	SelectTimer:   "SelectTimer",
	Tick:          "Tick",
	Listening:     "Listening",
	NotListening:  "NotListening",
	Connected:     "Connected",
	NotConnected:  "NotConnected",
	Accepted:      "Accepted",
	NotAccepted:   "NotAccepted",
	Closed:        "Closed",
	Abandoned:     "Abandoned",
	Close:         "Close",
	Enquiry:       "Enquiry",
	Ack:           "Ack",
	Nak:           "Nak",
	UsableAddress: "UsableAddress",
	NotUsable:     "NotUsable",
	AddressLost:   "AddressLost",
	GroupUpdate:   "GroupUpdate",
	Ready:         "Ready",
	NotReady:      "NotReady",
	Outcome:       "Outcome",
	Other:         "Other",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "Unknown"
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to its Kind. Unrecognised names yield KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return Kind(k)
		}
	}
	return KindUnknown
}

// Kinds formats a kind list for logging.
func Kinds(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}
