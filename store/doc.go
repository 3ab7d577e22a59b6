// Package store provides the DynamoDB table handle that backs a model.
//
// A [Table] performs the raw document operations the query layer builds on:
// create, get, update and delete by identifier, index queries and full scans.
// It never creates or migrates tables.
//
// # Documents
//
// Documents are plain maps ([Document]) marshaled with the attributevalue
// package. Numbers read back from DynamoDB are float64.
//
// # Queries and scans
//
// [QueryInput] and [ScanInput] carry translated filter predicates. Key
// predicates become the KeyConditionExpression; the rest become a
// FilterExpression. Results are paginated until exhausted or until the
// requested limit is reached. Count requests use Select=COUNT.
//
// # Configuration
//
// Use [DefaultConfig] for plain hard deletes with managed timestamps:
//
//	cfg := store.DefaultConfig()
//	cfg.SoftDelete = true // mark deleted items with a TTL instead of removing them
//	cfg.RateLimit = 50    // at most 50 store calls per second
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist or is deleted
//   - [ErrAlreadyExists] - a document with the same identifier exists
//   - [ErrMissingID] - a document operation needs an identifier
package store
