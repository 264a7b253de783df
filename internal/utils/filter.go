package utils

// Filter applies a filter function to each element in a slice
// and returns a new slice containing only the elements for which the filter function returns true.
func Filter[T any](slice []T, filterFunc func(T) bool) []T {
	var result []T
	for _, item := range slice {
		if filterFunc(item) {
			result = append(result, item)
		}
	}
	return result
}

// GroupBy indexes a slice by key, keeping slice order within each group
func GroupBy[T any, K comparable](slice []T, key func(T) K) map[K][]T {
	groups := make(map[K][]T)
	for _, item := range slice {
		k := key(item)
		groups[k] = append(groups[k], item)
	}
	return groups
}
