// Package rabbit is the RabbitMQ client behind the ingestion job queue.
//
// Topology declared for consumers:
//
//	exchange ──routing key──▶ queue ──nack, no requeue──▶ quarantine exchange ──▶ quarantine queue
//	"" ──"<queue>.delay"──▶ delay queue ──TTL expiry──▶ exchange
//
// Every publish runs in confirm mode and waits for the broker ack.
package rabbit
