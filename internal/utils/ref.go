package utils

func DeRefOr[k any](input *k, def k) k {
	if input == nil {
		return def
	}
	return *input
}
