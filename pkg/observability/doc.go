/*
Package observability provides the notification sinks of the onboarding workflow.

It includes a structured-logging notifier, Prometheus metrics fed by workflow
events, lifecycle hook dispatch and a fan-out that isolates sinks from each other.
Sinks are fire-and-forget: a failing sink never affects the workflow.
*/
package observability
