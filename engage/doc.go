// Engagement controller for a posting agent.
//
// Decides whether, what kind, and how often to reply to inbound messages and to post on a
// self-paced cadence, while respecting per-user, per-thread, and global limits.
//
// The sub-packages hold the decision core (cooldown, ratelimit, templates, thread, scheduler) and the
// collaborators it talks to (platform, oracle, cachestore, memstore, config). This package only has
// the types shared between them.
package engage
