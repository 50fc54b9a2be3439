// Package coordinator runs one request through a graph of actors.
//
// A Coordinator is built from a list of core.ActorConfig values. It
// materializes one actor per config through the processor registry, adds
// the reserved input, output and bookkeeping actors (plus the agent actor
// when an agent is configured) and resolves every actor's dependency set
// against the template keys of the run. The resulting dependencies and
// dependents maps are fixed after construction.
//
// All actor traffic flows through the coordinator's single relay
// goroutine:
//
//   - STREAM_ERROR and broadcast ERRORS messages are recorded per sender and
//     reported to the output on idle timeout
//   - BOOKKEEPING_DONE stops the run
//   - BOOKKEEPING and AGENT_DONE go to the bookkeeping actor
//   - point-to-point messages go to their live receiver
//   - everything else fans out to the sender's dependents, tagged with the
//     sender's template key
//
// An idle timer is reset on every relayed message. When it fires the output
// actor receives a STREAM_ERROR and the run is stopped after a grace period
// regardless of further activity.
//
// Example:
//
//	c, err := coordinator.New(cfgs, func(o *coordinator.Options) {
//	    o.OutputTemplate = "{{ leaf.output_str }} {{ input.data }}"
//	})
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx, value.Map{"data": value.String("New!")}); err != nil {
//	    return err
//	}
//	res, err := c.Output().Result(ctx)
package coordinator
