package tcp

// Hand-written in place of a go:generate stringer run (the toolchain is not
// invoked as part of this build); kept in its own file so a future stringer
// run has an obvious target to overwrite.

var stateNames = [...]string{
	StateInit:        "INIT",
	StateListen:      "LISTEN",
	StateSynSent:     "SYN-SENT",
	StateSynRcvd:     "SYN-RECEIVED",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN-WAIT-1",
	StateFinWait2:    "FIN-WAIT-2",
	StateClosing:     "CLOSING",
	StateTimeWait:    "TIME-WAIT",
	StateCloseWait:   "CLOSE-WAIT",
	StateLastAck:     "LAST-ACK",
	StateRst:         "RST",
	StateClosed:      "CLOSED",
}

// String implements fmt.Stringer, used throughout logging.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(?)"
}
