// Command coordinatord is a reference CLI over the coordination core. Each
// invocation loads configuration, builds a fresh in-process Coordinator,
// performs exactly one operation, and exits: there is no persistent daemon
// process and no state survives between invocations, matching the core's
// non-durable session model. A long-running deployment instead embeds
// coordinator.Coordinator directly behind its own transport.
package main
