// Package events carries the committed-op stream between the serializer
// and its consumers. Modeling the serializer/session-manager relationship
// as publish/subscribe avoids mutual ownership between the two.
package events
