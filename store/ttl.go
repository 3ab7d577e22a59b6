package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Soft deletes stamp the TTL attribute with the deletion time. DynamoDB
// removes the item eventually; until then every read hides it.

// expiry returns the TTL stored on item, if it carries a valid one.
func expiry(item map[string]types.AttributeValue) (time.Time, bool) {
	n, ok := item[AttrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// IsDeleted reports whether item carries a TTL that has passed.
func IsDeleted(item map[string]types.AttributeValue) bool {
	at, ok := expiry(item)
	return ok && !at.After(time.Now())
}

// number registers an epoch-seconds style numeric value and returns its placeholder.
func (e *expression) number(n int64) string {
	key := fmt.Sprintf(":val%d", e.n)
	e.n++
	e.values[key] = &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
	return key
}

// live renders the condition matching documents not soft-deleted at now.
func (e *expression) live(now time.Time) string {
	ttl := e.name(AttrTTL)
	return fmt.Sprintf("attribute_not_exists(%s) OR %s > %s", ttl, ttl, e.number(now.Unix()))
}

// onlyLive narrows a filter expression, possibly empty, to live documents.
func (e *expression) onlyLive(filterExpr string, now time.Time) string {
	live := e.live(now)
	if filterExpr == "" {
		return live
	}
	return fmt.Sprintf("(%s) AND (%s)", filterExpr, live)
}

// expire renders the SET clause that soft-deletes a document at now.
func (e *expression) expire(now time.Time) string {
	return fmt.Sprintf("%s = %s", e.name(AttrTTL), e.number(now.Unix()))
}
