package trainer

import (
	"math/rand"

	"aktis/internal/camera"
	"aktis/internal/dataset"
	"aktis/internal/sampling"
)

// pixelBatch is one optimization step's worth of rays and target colors. Ray
// bounds always come from the dataset's declared near/far planes.
type pixelBatch struct {
	rays    []sampling.Ray
	targets [][3]float64
}

// drawBatch samples pixels uniformly across the training views and builds the
// world-space ray through each via the shared intrinsics.
func drawBatch(ds *dataset.Dataset, size int, rng *rand.Rand) pixelBatch {
	batch := pixelBatch{
		rays:    make([]sampling.Ray, size),
		targets: make([][3]float64, size),
	}
	for i := 0; i < size; i++ {
		view := &ds.Views[rng.Intn(len(ds.Views))]
		x := rng.Intn(ds.Intrinsics.Width)
		y := rng.Intn(ds.Intrinsics.Height)
		batch.rays[i] = camera.Ray(ds.Intrinsics, view.Pose, float64(x), float64(y), ds.Bounds.Near, ds.Bounds.Far)
		batch.targets[i] = view.Image.At(x, y)
	}
	return batch
}
