package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sbinet/npyio"

	"aktis/internal/camera"
	"aktis/internal/render"
)

// Load reads an npz scene archive from a local path or an http(s) URL. The
// archive carries the three members numpy's savez writes for these scenes:
// focal (scalar), images (N x H x W x 3) and poses (N x 4 x 4).
func Load(ctx context.Context, pathOrURL string, bounds Bounds) (*Dataset, error) {
	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		raw, err = fetch(ctx, pathOrURL)
	} else {
		raw, err = os.ReadFile(pathOrURL)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", pathOrURL, err)
	}

	ds, err := Decode(bytes.NewReader(raw), int64(len(raw)), bounds)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", pathOrURL, err)
	}
	ds.Name = pathOrURL
	return ds, nil
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Decode parses an npz scene archive already held in memory.
func Decode(r io.ReaderAt, size int64, bounds Bounds) (*Dataset, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	focal, focalShape, err := readMember(archive, "focal.npy")
	if err != nil {
		return nil, err
	}
	if len(focal) == 0 {
		return nil, fmt.Errorf("focal member holds no value, shape=%v", focalShape)
	}

	images, imagesShape, err := readMember(archive, "images.npy")
	if err != nil {
		return nil, err
	}
	if len(imagesShape) != 4 || imagesShape[3] != 3 {
		return nil, fmt.Errorf("images member must be N x H x W x 3, got shape=%v", imagesShape)
	}

	poses, posesShape, err := readMember(archive, "poses.npy")
	if err != nil {
		return nil, err
	}
	if len(posesShape) != 3 || posesShape[1] != 4 || posesShape[2] != 4 {
		return nil, fmt.Errorf("poses member must be N x 4 x 4, got shape=%v", posesShape)
	}
	if imagesShape[0] != posesShape[0] {
		return nil, fmt.Errorf("view count mismatch: images=%d poses=%d", imagesShape[0], posesShape[0])
	}

	n, h, w := imagesShape[0], imagesShape[1], imagesShape[2]
	in := camera.Intrinsics{Width: w, Height: h, Focal: focal[0]}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ds := &Dataset{Intrinsics: in, Bounds: bounds, Views: make([]View, 0, n)}
	stride := h * w * 3
	for i := 0; i < n; i++ {
		img := render.Image{
			Width:  w,
			Height: h,
			Pix:    append([]float64(nil), images[i*stride:(i+1)*stride]...),
		}
		var rows [4][4]float64
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				rows[r][c] = poses[i*16+r*4+c]
			}
		}
		ds.Views = append(ds.Views, View{Pose: camera.PoseFromRows(rows), Image: img})
	}
	return ds, nil
}

// readMember decodes one npy member into float64s regardless of whether the
// archive stores it as f4 or f8.
func readMember(archive *zip.Reader, name string) ([]float64, []int, error) {
	f, err := archive.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("archive member %s: %w", name, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("archive member %s: %w", name, err)
	}
	shape := append([]int(nil), r.Header.Descr.Shape...)

	switch {
	case strings.HasSuffix(r.Header.Descr.Type, "f4"):
		var data []float32
		if err := r.Read(&data); err != nil {
			return nil, nil, fmt.Errorf("archive member %s: %w", name, err)
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, shape, nil
	case strings.HasSuffix(r.Header.Descr.Type, "f8"):
		var data []float64
		if err := r.Read(&data); err != nil {
			return nil, nil, fmt.Errorf("archive member %s: %w", name, err)
		}
		return data, shape, nil
	default:
		return nil, nil, fmt.Errorf("archive member %s: unsupported dtype %q", name, r.Header.Descr.Type)
	}
}
