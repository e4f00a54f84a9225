package preprocess

import (
	"math"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

// FilterGazeNoise drops tracker glitches. Point i survives when it lies within
// maxJump of raw point i-1, whether or not i-1 itself survived.
func FilterGazeNoise(points []models.GazePoint, maxJump float64) []models.GazePoint {
	if len(points) == 0 {
		return nil
	}
	clean := make([]models.GazePoint, 0, len(points))
	clean = append(clean, points[0])
	for i := 1; i < len(points); i++ {
		if Distance(points[i], points[i-1]) <= maxJump {
			clean = append(clean, points[i])
		}
	}
	return clean
}

func Distance(a, b models.GazePoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
