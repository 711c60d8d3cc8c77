// Package conversation is the business boundary for medbridge's bilingual
// clinical conversations. It defines the Service (per-turn state machine,
// session lifecycle, rolling summaries), the Store interface (persistence),
// and the domain models shared with the HTTP API and the stores.
package conversation
