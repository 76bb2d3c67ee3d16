/*
Package scheduler implements the two control loops of the agent: Engagement, which replies to
inbound messages, and Poster, which publishes top-level posts on a randomized timer.

Each loop owns its own rate-limit, template-cooldown and special-interaction state. The two loops
share only read-only configuration (limits and the template catalog) and the external
collaborators, so no locking is needed between them.
*/
package scheduler
