// Package actor is the mailbox runtime every peerlink engine runs on.
//
// A unit is a goroutine with an unbounded mailbox and an address. Units
// never share state; they exchange Messages through the Runtime, which
// routes by address. A unit processes its mailbox strictly in arrival
// order and only blocks in Receive, Select or Ask.
//
// Timers are scoped to the unit that armed them. Each timer kind carries
// a generation so a tick that fires after the timer was cancelled or
// re-armed is discarded before the unit ever sees it.
//
// Most engines are written as transition tables:
//
//	t := actor.NewTable[state]("client", "initial", "running")
//	t.On(initial, actor.Start, c.start)
//	t.On(running, actor.Ack, c.resolve)
//	t.Otherwise(running, c.unexpected)
//	return t.Run(u, initial)
package actor
