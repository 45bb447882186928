package ai

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	autoClusterDistance = 0.35
	mergeGapSeconds     = 0.1
	kmeansIterations    = 15
	smoothingRadius     = 3
)

// clusterFixed assigns each embedding to one of speakerCount clusters via
// k-means++ seeding followed by kmeansIterations of Lloyd refinement, per
// spec.md §4.5. speakerCount is clamped to [1, len(embeddings)].
func clusterFixed(embeddings [][]float32, speakerCount int) []int {
	count := len(embeddings)
	if count == 0 {
		return nil
	}
	k := speakerCount
	if k < 1 {
		k = 1
	}
	if k > count {
		k = count
	}

	centroids := initializeCentroids(embeddings, k)
	labels := make([]int, count)

	for iter := 0; iter < kmeansIterations; iter++ {
		for i, embedding := range embeddings {
			labels[i] = nearestCentroid(embedding, centroids)
		}
		centroids = recomputeCentroidsWithRestarts(embeddings, labels, k, centroids)
	}

	ensureNonEmptyClusters(embeddings, k, labels, centroids)
	return labels
}

// clusterAuto merges embeddings bottom-up by nearest-centroid cosine
// distance until the closest remaining pair exceeds threshold, per spec.md
// §4.5's auto-K policy. The number of resulting clusters is not known in
// advance.
func clusterAuto(embeddings [][]float32, threshold float32) []int {
	count := len(embeddings)
	if count == 0 {
		return nil
	}

	type cluster struct {
		indices  []int
		centroid []float32
		size     int
	}
	clusters := make([]*cluster, count)
	for i, embedding := range embeddings {
		c := append([]float32(nil), embedding...)
		clusters[i] = &cluster{indices: []int{i}, centroid: normalize(c), size: 1}
	}

	for len(clusters) > 1 {
		bestDistance := float32(2.0)
		bestI, bestJ := -1, -1
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := cosineDistance(clusters[i].centroid, clusters[j].centroid)
				if d < bestDistance {
					bestDistance = d
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 || bestDistance > threshold {
			break
		}

		a, b := clusters[bestI], clusters[bestJ]
		total := a.size + b.size
		merged := make([]float32, len(a.centroid))
		for i := range merged {
			merged[i] = (a.centroid[i]*float32(a.size) + b.centroid[i]*float32(b.size)) / float32(total)
		}
		a.centroid = normalize(merged)
		a.indices = append(a.indices, b.indices...)
		a.size = total

		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	labels := make([]int, count)
	for label, c := range clusters {
		for _, index := range c.indices {
			labels[index] = label
		}
	}
	return labels
}

// initializeCentroids implements k-means++: the first centroid is the first
// embedding, and each subsequent centroid is the embedding farthest (by
// nearest-centroid distance) from all centroids chosen so far. Ties pick the
// lowest index, since the scan keeps the first strictly-greater candidate.
func initializeCentroids(embeddings [][]float32, k int) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, embeddings[0])

	for len(centroids) < k {
		bestIndex := 0
		bestDistance := float32(-1.0)
		for index, embedding := range embeddings {
			nearest := float32(2.0)
			for _, centroid := range centroids {
				d := cosineDistance(embedding, centroid)
				if d < nearest {
					nearest = d
				}
			}
			if nearest > bestDistance {
				bestDistance = nearest
				bestIndex = index
			}
		}
		centroids = append(centroids, embeddings[bestIndex])
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid by cosine
// distance, lowest index wins ties.
func nearestCentroid(embedding []float32, centroids [][]float32) int {
	bestIndex := 0
	bestDistance := float32(2.0)
	for index, centroid := range centroids {
		d := cosineDistance(embedding, centroid)
		if d < bestDistance {
			bestDistance = d
			bestIndex = index
		}
	}
	return bestIndex
}

// recomputeCentroidsWithRestarts averages the embeddings assigned to each
// label and re-normalizes. A cluster left empty by the assignment step keeps
// its previous centroid rather than collapsing to the zero vector. Sums are
// accumulated in float64 via gonum/floats for the numerical headroom a long
// recording's worth of 15 Lloyd iterations can use.
func recomputeCentroidsWithRestarts(embeddings [][]float32, labels []int, k int, previous [][]float32) [][]float32 {
	dim := 0
	if len(embeddings) > 0 {
		dim = len(embeddings[0])
	}
	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	counts := make([]int, k)

	buf := make([]float64, dim)
	for i, embedding := range embeddings {
		label := labels[i]
		counts[label]++
		for d, v := range embedding {
			buf[d] = float64(v)
		}
		floats.Add(sums[label], buf)
	}

	centroids := make([][]float32, k)
	for index, sum := range sums {
		if counts[index] == 0 {
			if index < len(previous) {
				centroids[index] = previous[index]
			} else if len(embeddings) > 0 {
				centroids[index] = embeddings[0]
			}
			continue
		}
		floats.Scale(1.0/float64(counts[index]), sum)
		centroid := make([]float32, dim)
		for d, v := range sum {
			centroid[d] = float32(v)
		}
		centroids[index] = normalize(centroid)
	}
	return centroids
}

// ensureNonEmptyClusters reseeds any cluster left without members after
// Lloyd refinement from the point currently farthest (by worst-case cosine
// distance to any centroid) from the existing centroids, so every requested
// speaker slot is populated.
func ensureNonEmptyClusters(embeddings [][]float32, k int, labels []int, centroids [][]float32) {
	if k <= 1 {
		return
	}
	counts := make([]int, k)
	for _, label := range labels {
		counts[label]++
	}

	for emptyIndex, count := range counts {
		if count != 0 {
			continue
		}
		seedIndex := 0
		worstDistance := float32(-1.0)
		for index, embedding := range embeddings {
			var worst float32
			for _, centroid := range centroids {
				d := cosineDistance(embedding, centroid)
				if d > worst {
					worst = d
				}
			}
			if worst > worstDistance {
				worstDistance = worst
				seedIndex = index
			}
		}
		labels[seedIndex] = emptyIndex
		centroids[emptyIndex] = embeddings[seedIndex]
	}
}

// smoothWindowLabels replaces each label with the plurality vote over the
// window [index-radius, index+radius], clamped to the slice bounds. Ties
// pick the lowest label value.
func smoothWindowLabels(labels []int, radius int) []int {
	if len(labels) == 0 || radius == 0 {
		return append([]int(nil), labels...)
	}
	smoothed := make([]int, len(labels))
	for index := range labels {
		start := index - radius
		if start < 0 {
			start = 0
		}
		end := index + radius + 1
		if end > len(labels) {
			end = len(labels)
		}

		counts := map[int]int{}
		for _, label := range labels[start:end] {
			counts[label]++
		}
		chosen := labels[index]
		bestCount := -1
		keys := make([]int, 0, len(counts))
		for label := range counts {
			keys = append(keys, label)
		}
		sort.Ints(keys)
		for _, label := range keys {
			if counts[label] > bestCount {
				bestCount = counts[label]
				chosen = label
			}
		}
		smoothed[index] = chosen
	}
	return smoothed
}

// mergeAdjacentSegments merges consecutive segments assigned to the same
// speaker whose gap is no larger than mergeGapSeconds. Segments are sorted
// by start time first.
func mergeAdjacentSegments(segments []SpeakerSegment) []SpeakerSegment {
	if len(segments) == 0 {
		return segments
	}
	sorted := append([]SpeakerSegment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := make([]SpeakerSegment, 0, len(sorted))
	current := sorted[0]
	for _, segment := range sorted[1:] {
		if segment.SpeakerID == current.SpeakerID && segment.Start-current.End <= mergeGapSeconds {
			if segment.End > current.End {
				current.End = segment.End
			}
		} else {
			merged = append(merged, current)
			current = segment
		}
	}
	merged = append(merged, current)
	return merged
}

// normalize returns a unit-L2-norm copy of v, or v unchanged if its norm is
// zero.
func normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	if norm <= 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// cosineDistance is 1 - cosine_similarity, in [0, 2]. Either input being the
// zero vector gives distance 1.0, the same as for orthogonal vectors.
func cosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	similarity := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}

func embeddingDistanceSummary(embeddings [][]float32) string {
	if len(embeddings) < 2 {
		return "Embedding distances: n/a"
	}
	min := float32(2.0)
	var max, sum float32
	count := 0
	for i := 0; i < len(embeddings); i++ {
		for j := i + 1; j < len(embeddings); j++ {
			d := cosineDistance(embeddings[i], embeddings[j])
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
			count++
		}
	}
	var mean float32
	if count > 0 {
		mean = sum / float32(count)
	}
	return fmt.Sprintf("Embedding distances (cosine): min=%.3f mean=%.3f max=%.3f", min, mean, max)
}

func clusterSummary(labels []int) string {
	if len(labels) == 0 {
		return "Cluster summary: no labels"
	}
	counts := map[int]int{}
	for _, label := range labels {
		counts[label]++
	}
	keys := make([]int, 0, len(counts))
	for label := range counts {
		keys = append(keys, label)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, label := range keys {
		parts = append(parts, fmt.Sprintf("S%d=%d", label+1, counts[label]))
	}
	summary := ""
	for i, p := range parts {
		if i > 0 {
			summary += " "
		}
		summary += p
	}
	return "Cluster summary: " + summary
}
