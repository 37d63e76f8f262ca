/*
Package ports defines the driven and driving ports (interfaces) of the threadline orchestrator.

These interfaces decouple the execution graph from storage backends, language
model providers, external capabilities and transports.

# Key Interfaces

  - StateStore: persists and loads conversation state per thread (the checkpointer).
  - Leaser: grants an exclusive, expiring lease on a thread across replicas.
  - Capability: an external operation reached through the uniform invocation contract.
  - Generator: a text generation backend.
  - Orchestrator: the request surface consumed by transports (HTTP, MCP, CLI).
*/
package ports
