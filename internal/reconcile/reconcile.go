package reconcile

// Reconcile returns the configs whose key is in neither produced nor
// blacklisted, in configs order. Nil indexes are treated as empty.
func Reconcile(configs, produced, blacklisted *Index) []Entry {
	missing := make([]Entry, 0)
	for _, entry := range configs.Entries() {
		if produced.Has(entry.Key) || blacklisted.Has(entry.Key) {
			continue
		}
		missing = append(missing, entry)
	}
	return missing
}
