package gaze

import (
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/preprocess"
)

const noise = -1

// DBSCAN labels every point with a cluster id, or -1 for noise. A point is a
// core point when at least minPts points (itself included) lie within eps.
func DBSCAN(points []models.GazePoint, eps float64, minPts int) []int {
	labels := make([]int, len(points))
	visited := make([]bool, len(points))
	for i := range labels {
		labels[i] = noise
	}

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if preprocess.Distance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		seeds := neighbours(i)
		if len(seeds) < minPts {
			continue
		}

		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true

			if more := neighbours(j); len(more) >= minPts {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}

	return labels
}

// ClusterSizes counts members per cluster, ignoring noise.
func ClusterSizes(labels []int) map[int]int {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l != noise {
			sizes[l]++
		}
	}
	return sizes
}
