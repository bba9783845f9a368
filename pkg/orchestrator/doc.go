/*
Package orchestrator drives a product onboarding session from creation to a
committed pair of records.

A session accumulates a product definition and an optional audience target
across several calls. CommitSession then writes both records to the record
store: the product first, the target bound to it, retrying the whole unit a
bounded number of times and deleting an orphaned product when the target
write fails.

Every failure is returned as a *domain.Error so adapters can map its Kind.
*/
package orchestrator
