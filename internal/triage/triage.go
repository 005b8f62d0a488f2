// Package triage groups crash artifacts into clusters of near-duplicate
// content using fuzzy hashing, so a regression summary can report one
// entry per distinct crash shape instead of one per file.
package triage

import (
	"errors"
	"sort"

	"github.com/glaslos/tlsh"
)

// MinDataSize is the smallest input TLSH can fingerprint meaningfully.
// Shorter crashes fall back to exact-bytes grouping.
const MinDataSize = 50

// DefaultDistanceThreshold is the maximum TLSH distance for two crashes
// to be folded into the same cluster.
const DefaultDistanceThreshold = 60

// Hash wraps a computed fingerprint, falling back to raw bytes for
// inputs too small for TLSH.
type Hash struct {
	fuzzy *tlsh.TLSH
	exact string // used when fuzzy is nil
}

// Compute fingerprints data.
func Compute(data []byte) Hash {
	if len(data) < MinDataSize {
		return Hash{exact: string(data)}
	}
	h, err := tlsh.HashBytes(data)
	if err != nil {
		return Hash{exact: string(data)}
	}
	return Hash{fuzzy: h}
}

// Distance returns a non-negative distance between two hashes, or -1 if
// the two are not comparable (one fuzzy, one exact).
func (h Hash) Distance(other Hash) int {
	if h.fuzzy != nil && other.fuzzy != nil {
		return h.fuzzy.Diff(other.fuzzy)
	}
	if h.fuzzy == nil && other.fuzzy == nil {
		if h.exact == other.exact {
			return 0
		}
		return DefaultDistanceThreshold + 1
	}
	return -1
}

// String renders the fingerprint, or the empty string for exact hashes.
func (h Hash) String() string {
	if h.fuzzy == nil {
		return ""
	}
	return h.fuzzy.String()
}

// Member is a single crash artifact being clustered.
type Member struct {
	Path string
	Data []byte
}

// Cluster is a group of crash artifacts judged similar enough to share a
// root cause, with Representative holding the shortest member.
type Cluster struct {
	Representative Member
	Members        []Member
	hash           Hash
}

// Count returns the number of artifacts folded into this cluster.
func (c *Cluster) Count() int { return len(c.Members) }

// Group clusters members by fuzzy-hash distance, using threshold as the
// maximum distance for two artifacts to share a cluster. A threshold of
// 0 uses DefaultDistanceThreshold.
func Group(members []Member, threshold int) []*Cluster {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}

	var clusters []*Cluster
	for _, m := range members {
		h := Compute(m.Data)

		var best *Cluster
		bestDist := threshold + 1
		for _, c := range clusters {
			d := h.Distance(c.hash)
			if d < 0 {
				continue
			}
			if d <= threshold && d < bestDist {
				best = c
				bestDist = d
			}
		}

		if best == nil {
			clusters = append(clusters, &Cluster{
				Representative: m,
				Members:        []Member{m},
				hash:           h,
			})
			continue
		}

		best.Members = append(best.Members, m)
		if len(m.Data) < len(best.Representative.Data) {
			best.Representative = m
		}
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Count() > clusters[j].Count()
	})
	return clusters
}

// ErrNotComparable is returned by callers that need a hard distance
// between two hashes of mismatched kind (one fuzzy, one exact-fallback).
var ErrNotComparable = errors.New("triage: hashes are not comparable")

// DistanceOf returns the distance between two raw byte slices, computing
// fingerprints for both.
func DistanceOf(a, b []byte) (int, error) {
	ha, hb := Compute(a), Compute(b)
	d := ha.Distance(hb)
	if d < 0 {
		return 0, ErrNotComparable
	}
	return d, nil
}
