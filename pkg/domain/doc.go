/*
Package domain contains the core domain models of the product onboarding workflow.

It defines the session state machine, the session blob persisted between calls,
the payloads accumulated by each step and the error taxonomy shared by every
adapter. This package is kept pure and free of external dependencies like I/O
or persistence, following Hexagonal Architecture principles.

# Key Entities

  - SessionState: The finite set of workflow states and the legal transitions between them.
  - Session: The TTL-bound unit of in-flight workflow state.
  - ProductData / TargetConfig: The primary and secondary payloads created on commit.
  - CommitResult: The outcome of the two-entity creation.
  - Event: A fire-and-forget notification describing a workflow step.
*/
package domain
