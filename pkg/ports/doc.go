/*
Package ports defines the driven ports (interfaces) of the product onboarding workflow.

These interfaces decouple the orchestrator from external implementations, allowing
the workflow to run against Redis or memory for session state, and against
Dataverse or memory for record creation.

# Key Interfaces

  - KeyValueStore: TTL-bound key-value storage backing the session repository.
  - RecordStore: Remote entity CRUD with generated ids.
  - ProductValidator / TargetValidator: Payload validation returning every field error.
  - Notifier: Fire-and-forget workflow notifications.
*/
package ports
