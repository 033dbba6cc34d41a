package config

import "github.com/lokutor-ai/stream-commentator/pkg/domain"

// Strategy selects how Merge reconciles local and remote documents.
type Strategy string

const (
	StrategyRemote     Strategy = "remote"
	StrategyLocal      Strategy = "local"
	StrategyTimestamp  Strategy = "timestamp"
	StrategySafetyFirst Strategy = "safety-first"
)

// protectedSections lists the document sections stripped from any
// remote input before merge: credentials, tokens, and API keys.
var protectedSections = []string{"credentials"}

// stripProtected returns a copy of remote with every protected section
// reset to its zero value, so local credentials can never be
// overwritten by a remote document.
func stripProtected(remote *Document) *Document {
	stripped := remote.Clone()
	stripped.Credentials = Credentials{}
	return stripped
}

// Merge produces a merged document from local and remote, per strategy.
// Protected sections are stripped from remote before merging.
func Merge(local, remote *Document, strategy Strategy) *Document {
	remote = stripProtected(remote)

	switch strategy {
	case StrategyRemote:
		merged := remote.Clone()
		merged.Credentials = *local.Credentials.clone()
		return merged
	case StrategyLocal:
		return local.Clone()
	case StrategyTimestamp:
		return mergeByTimestamp(local, remote)
	case StrategySafetyFirst:
		return mergeSafetyFirst(local, remote)
	default:
		return local.Clone()
	}
}

func (c *Credentials) clone() *Credentials {
	return &Credentials{APIKeys: copyMap(c.APIKeys), Tokens: copyMap(c.Tokens)}
}

// mergeByTimestamp takes, per section, whichever of local/remote has
// the newer LastModified entry (section granularity, see
// Document.LastModified).
func mergeByTimestamp(local, remote *Document) *Document {
	merged := local.Clone()

	sections := map[string]func(*Document, *Document){
		"providers": func(dst, src *Document) { dst.Providers = src.Providers },
		"comment":   func(dst, src *Document) { dst.Comment = src.Comment },
		"safety":    func(dst, src *Document) { dst.Safety = src.Safety },
		"rateLimit": func(dst, src *Document) { dst.RateLimit = src.RateLimit },
	}

	for section, apply := range sections {
		localTime := local.LastModified[section]
		remoteTime := remote.LastModified[section]
		if remoteTime.After(localTime) {
			apply(merged, remote)
			merged.LastModified[section] = remoteTime
		}
	}
	return merged
}

// mergeSafetyFirst merges the safety subtree so the stricter value wins
// per threshold (smaller number), and the stricter enum rank wins for
// level. Every other section follows local.
func mergeSafetyFirst(local, remote *Document) *Document {
	merged := local.Clone()

	merged.Safety.Enabled = local.Safety.Enabled || remote.Safety.Enabled
	merged.Safety.BlockOnUncertainty = local.Safety.BlockOnUncertainty || remote.Safety.BlockOnUncertainty

	localLevel := domain.SafetyLevel(local.Safety.Level)
	remoteLevel := domain.SafetyLevel(remote.Safety.Level)
	if remoteLevel.Rank() > localLevel.Rank() {
		merged.Safety.Level = string(remoteLevel)
	}

	merged.Safety.Thresholds = make(Thresholds, len(local.Safety.Thresholds))
	for cat, v := range local.Safety.Thresholds {
		merged.Safety.Thresholds[cat] = v
	}
	for cat, remoteVal := range remote.Safety.Thresholds {
		if localVal, ok := merged.Safety.Thresholds[cat]; !ok || remoteVal < localVal {
			merged.Safety.Thresholds[cat] = remoteVal
		}
	}

	return merged
}
