package sim

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/roach88/hlcsim/internal/node"
)

// PingPong builds the classic two-node exchange: in every round a sends a
// ping, b waits for it and answers, and a waits for the answer. Clocks
// read the host wall clock, and delay (optional) adds random delivery
// latency.
func PingPong(rounds int, delay *DelayRange) Config {
	cfg := Config{
		NodeIDs: []string{"a", "b"},
		Clock:   ClockConfig{Mode: ClockSystem},
		Delay:   delay,
		Timeout: DefaultTimeout,
	}
	for r := 1; r <= rounds; r++ {
		cfg.Script = append(cfg.Script,
			Step{Node: "a", Action: node.Action{Op: node.OpSend, To: "b", Payload: fmt.Appendf(nil, "ping %d", r)}},
			Step{Node: "b", Action: node.Action{Op: node.OpReceive, Wait: 1}},
			Step{Node: "b", Action: node.Action{Op: node.OpSend, To: "a", Payload: fmt.Appendf(nil, "pong %d", r)}},
			Step{Node: "a", Action: node.Action{Op: node.OpReceive, Wait: 1}},
		)
	}
	return cfg
}

// RandomScript generates a deterministic scenario from seed: nodes manual
// clocks whose readings wander forward and sometimes backward, and steps
// random ticks, sends and non-blocking receives. Every node ends with a
// drain. Receives never wait, so generated scripts cannot deadlock.
func RandomScript(seed uint64, nodes, steps int) Config {
	faker := gofakeit.New(seed)

	cfg := Config{
		NodeCount: nodes,
		Clock:     ClockConfig{Mode: ClockManual, Start: 1000},
		Seed:      seed,
	}
	ids := cfg.Nodes()
	readings := make(map[string]int64, len(ids))
	for _, id := range ids {
		readings[id] = cfg.Clock.Start
	}

	for range steps {
		id := ids[faker.Number(0, len(ids)-1)]

		var a node.Action
		roll := faker.Number(1, 10)
		switch {
		case roll <= 5 && len(ids) > 1:
			to := id
			for to == id {
				to = ids[faker.Number(0, len(ids)-1)]
			}
			a = node.Action{Op: node.OpSend, To: to, Payload: []byte(faker.HackerPhrase())}
		case roll <= 7:
			a = node.Action{Op: node.OpReceive}
		default:
			a = node.Action{Op: node.OpTick}
		}

		if faker.Bool() {
			r := max(readings[id]+int64(faker.Number(-3, 10)), 1)
			readings[id] = r
			a.At = &r
		}
		cfg.Script = append(cfg.Script, Step{Node: id, Action: a})
	}

	for _, id := range ids {
		cfg.Script = append(cfg.Script, Step{Node: id, Action: node.Action{Op: node.OpReceive}})
	}
	return cfg
}
