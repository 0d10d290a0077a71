// Package kafka is the event producer for media lifecycle events.
package kafka
