package confidence_test

import (
	"fmt"

	"scanocr/internal/confidence"
	"scanocr/pkg/models"
)

// Example shows that an engine's "no detection" marker does not drag the page score down.
func Example() {
	score := confidence.Aggregate([]models.TokenConfidence{
		{Token: "The", Confidence: 95},
		{Token: "", Confidence: -1},
		{Token: "river", Confidence: 85},
	})
	fmt.Printf("%.1f\n", score)
	// Output: 90.0
}
