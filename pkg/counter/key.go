package counter

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GroupKeyPrefix namespaces group keys so they never collide with instance ids.
const GroupKeyPrefix = "GROUP::"

// ResolveKey picks the state key for an invocation: the group key when one is
// given, the caller's instance id otherwise. Group keys are NFC-normalized so
// visually identical keys typed on different hosts share one slot.
func ResolveKey(groupKey, instanceID string) (string, error) {
	gk := norm.NFC.String(strings.TrimSpace(groupKey))
	if gk != "" {
		return GroupKeyPrefix + gk, nil
	}

	id := strings.TrimSpace(instanceID)
	if id != "" {
		return id, nil
	}

	return "", &KeyResolutionError{GroupKey: groupKey, InstanceID: instanceID}
}

// IsGroupKey reports whether key was resolved from a group key.
func IsGroupKey(key string) bool {
	return strings.HasPrefix(key, GroupKeyPrefix)
}
