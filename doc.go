/*
Package productflow onboards products into a membership backend through
short-lived sessions.

A client creates a session, adds the product definition, optionally adds an
audience target, then commits. The commit writes the product and its target
to the record system (Dataverse or any OData v4 service) as one unit with
bounded retries and compensation. Sessions live in Redis with a fixed
absolute deadline.

# Layout

  - pkg/domain: session states, transition table, payloads, typed errors.
  - pkg/session: the Redis-backed session repository with optimistic versions.
  - pkg/orchestrator: the workflow service.
  - pkg/adapters: Redis, in-memory, Dataverse, HTTP and MCP adapters.
  - cmd/productflow: the CLI and server.

# Usage

	store := redis.New("localhost:6379", "", 0)
	repo := session.NewRepository(store)
	records, _ := dataverse.New(baseURL, dataverse.WithToken(token))

	svc := orchestrator.New(repo, records)
	defer svc.Close()

	sess, err := svc.CreateSession(ctx, orchestrator.CreateRequest{
		UserID:           "user-1",
		Privilege:        domain.PrivilegeAdmin,
		OrganizationGUID: orgID,
	})
*/
package productflow
