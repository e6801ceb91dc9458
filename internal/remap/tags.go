package remap

import (
	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
)

type tagChangeKind int

const (
	TAG_KEY_RENAMED tagChangeKind = iota
	TAG_KEY_DROPPED
	TAG_KEY_REPLACED
	TAG_VALUE_CHANGED
)

type tagChange struct {
	kind  tagChangeKind
	key   string
	from  string
	to    string
	value string
}

// RemapKeys returns a copy of tags with keys renamed according to rules.
// Rules are applied in order and the first rule to claim a target key wins.
// A renamed value replaces a tag that already uses the target key. Keys
// without a rule are kept as they are.
func RemapKeys(tags provider.Tags, rules KeyRules) provider.Tags {
	result, _ := remapKeys(tags, rules)
	return result
}

// RemapValues returns a copy of tags with every value found in rules replaced.
func RemapValues(tags provider.Tags, rules ValueRules) provider.Tags {
	result, _ := remapValues(tags, rules)
	return result
}

func remapKeys(
	tags provider.Tags,
	rules KeyRules,
) (provider.Tags, []tagChange) {
	result := make(provider.Tags, len(tags))
	changes := []tagChange{}

	renamed := make(map[string]bool, len(rules))

	for _, rule := range rules {
		renamed[rule.From] = true

		value, ok := tags[rule.From]
		if !ok {
			continue
		}

		if _, exists := result[rule.To]; exists {
			changes = append(changes, tagChange{
				kind:  TAG_KEY_DROPPED,
				key:   rule.From,
				to:    rule.To,
				value: value,
			})
			continue
		}

		result[rule.To] = value

		if rule.From != rule.To {
			changes = append(changes, tagChange{
				kind:  TAG_KEY_RENAMED,
				key:   rule.From,
				from:  rule.From,
				to:    rule.To,
				value: value,
			})
		}
	}

	for k, v := range tags {
		if renamed[k] {
			continue
		}

		if _, exists := result[k]; exists {
			changes = append(changes, tagChange{
				kind:  TAG_KEY_REPLACED,
				key:   k,
				from:  v,
				to:    result[k],
				value: v,
			})
			continue
		}

		result[k] = v
	}

	return result, changes
}

func remapValues(
	tags provider.Tags,
	rules ValueRules,
) (provider.Tags, []tagChange) {
	result := make(provider.Tags, len(tags))
	changes := []tagChange{}

	for k, v := range tags {
		newValue, ok := rules[v]
		if !ok || newValue == v {
			result[k] = v
			continue
		}

		result[k] = newValue
		changes = append(changes, tagChange{
			kind: TAG_VALUE_CHANGED,
			key:  k,
			from: v,
			to:   newValue,
		})
	}

	return result, changes
}
