// Package waitfor rebuilds the wait-for graph of blocked resources from a
// runtime trace of the simulated network.
package waitfor

import (
	"fmt"
)

// A Message is an in-flight protocol message. Two trace occurrences with
// equal fields are the same message.
type Message struct {
	Address    uint64
	Opcode     string
	Src        int
	Dst        int
	AllowRetry bool
}

// AgentResolver turns network ids into agent names.
type AgentResolver interface {
	AgentName(id int) (string, bool)
}

// Placeholder tells if the message only carries an address. Stalled
// controllers are occupied by placeholders.
func (m Message) Placeholder() bool {
	return m.Opcode == ""
}

func (m Message) String() string {
	return m.Format(nil)
}

// Format renders the message as addr|opcode|src-->dst|retry, naming agents
// through the resolver when it knows them.
func (m Message) Format(r AgentResolver) string {
	retry := 0
	if m.AllowRetry {
		retry = 1
	}

	if m.Placeholder() {
		return fmt.Sprintf("%#x|null|null-->null|%d", m.Address, retry)
	}

	return fmt.Sprintf("%#x|%s|%s-->%s|%d",
		m.Address, m.Opcode, agent(r, m.Src), agent(r, m.Dst), retry)
}

func agent(r AgentResolver, id int) string {
	if r != nil {
		if name, ok := r.AgentName(id); ok {
			return name
		}
	}

	return fmt.Sprintf("Cache-%d", id)
}
