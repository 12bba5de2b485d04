package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/edgewatch/internal/models"
)

// Default label set for the general object model. Overridable per engine.
var defaultLabels = []string{
	"person", "bicycle", "car", "motorcycle", "bus", "truck",
	"dog", "cat", "bird", "backpack", "umbrella", "handbag",
}

const (
	detInputW = 640
	detInputH = 640
	maxBoxes  = 8400 // anchor-free head: (640/8)^2 + (640/16)^2 + (640/32)^2

	segInputW = 160
	segInputH = 160
	maskSize  = 64
)

// ONNXEngine runs both stages with ONNX Runtime sessions using
// pre-allocated tensors. Not safe for concurrent calls; the stage holds
// its engine mutex across every Detect and Refine.
type ONNXEngine struct {
	detSession *ort.AdvancedSession
	detInput   *ort.Tensor[float32]
	detOutput  *ort.Tensor[float32]

	segSession *ort.AdvancedSession
	segInput   *ort.Tensor[float32]
	segOutput  *ort.Tensor[float32]

	labels []string
}

// NewONNXEngine loads the stage-1 detector and, when segmentation is
// enabled, the stage-2 mask refiner from modelsDir.
func NewONNXEngine(modelsDir string, segmentation bool) (*ONNXEngine, error) {
	detPath := filepath.Join(modelsDir, "detector.onnx")

	slog.Info("loading detection model", "path", detPath)

	detInput, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputH, detInputW))
	if err != nil {
		return nil, fmt.Errorf("create detector input tensor: %w", err)
	}

	// Output layout: [maxBoxes, 6] = cx, cy, w, h, confidence, class index.
	detOutput, err := ort.NewEmptyTensor[float32](ort.NewShape(maxBoxes, 6))
	if err != nil {
		detInput.Destroy()
		return nil, fmt.Errorf("create detector output tensor: %w", err)
	}

	detSession, err := ort.NewAdvancedSession(detPath,
		[]string{"images"},
		[]string{"output"},
		[]ort.Value{detInput},
		[]ort.Value{detOutput},
		nil,
	)
	if err != nil {
		detInput.Destroy()
		detOutput.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	e := &ONNXEngine{
		detSession: detSession,
		detInput:   detInput,
		detOutput:  detOutput,
		labels:     defaultLabels,
	}

	if segmentation {
		segPath := filepath.Join(modelsDir, "segmenter.onnx")
		slog.Info("loading segmentation model", "path", segPath)

		e.segInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, segInputH, segInputW))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("create segmenter input tensor: %w", err)
		}
		e.segOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, maskSize, maskSize))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("create segmenter output tensor: %w", err)
		}
		e.segSession, err = ort.NewAdvancedSession(segPath,
			[]string{"crop"},
			[]string{"mask"},
			[]ort.Value{e.segInput},
			[]ort.Value{e.segOutput},
			nil,
		)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("create segmenter session: %w", err)
		}
	}

	slog.Info("inference engine ready", "segmentation", segmentation)
	return e, nil
}

// Detect runs stage-1 detection. BBoxes are normalized to [0,1].
func (e *ONNXEngine) Detect(ctx context.Context, _ models.Frame, img image.Image) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copy(e.detInput.GetData(), imageToFloat32CHW(img, detInputW, detInputH))

	if err := e.detSession.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	raw := e.detOutput.GetData()
	var cands []Candidate
	for i := 0; i < maxBoxes; i++ {
		row := raw[i*6 : i*6+6]
		conf := float64(row[4])
		if conf <= 0 {
			continue
		}
		cls := int(row[5])
		label := "object"
		if cls >= 0 && cls < len(e.labels) {
			label = e.labels[cls]
		}
		cx, cy := float64(row[0])/detInputW, float64(row[1])/detInputH
		w, h := float64(row[2])/detInputW, float64(row[3])/detInputH
		cands = append(cands, Candidate{
			Label:      label,
			Confidence: conf,
			BBox:       clampBBox([4]float64{cx - w/2, cy - h/2, w, h}),
		})
	}

	return nms(cands, 0.45), nil
}

// Refine runs stage-2 segmentation on the candidate's crop and returns a
// maskSize*maskSize float mask.
func (e *ONNXEngine) Refine(ctx context.Context, img image.Image, cand Candidate) ([]float32, error) {
	if e.segSession == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	crop := cropRegion(img, cand.BBox)
	if crop == nil {
		return nil, fmt.Errorf("empty crop for bbox %v", cand.BBox)
	}

	copy(e.segInput.GetData(), imageToFloat32CHW(crop, segInputW, segInputH))

	if err := e.segSession.Run(); err != nil {
		return nil, fmt.Errorf("run segmentation: %w", err)
	}

	mask := make([]float32, maskSize*maskSize)
	copy(mask, e.segOutput.GetData())
	return mask, nil
}

// Close releases all ONNX sessions and tensors.
func (e *ONNXEngine) Close() {
	if e.detSession != nil {
		e.detSession.Destroy()
	}
	if e.detInput != nil {
		e.detInput.Destroy()
	}
	if e.detOutput != nil {
		e.detOutput.Destroy()
	}
	if e.segSession != nil {
		e.segSession.Destroy()
	}
	if e.segInput != nil {
		e.segInput.Destroy()
	}
	if e.segOutput != nil {
		e.segOutput.Destroy()
	}
}

// nms applies greedy non-maximum suppression by IoU.
func nms(cands []Candidate, iouThreshold float64) []Candidate {
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})

	var kept []Candidate
	for _, c := range cands {
		keep := true
		for _, k := range kept {
			if iou(c.BBox, k.BBox) > iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ax2, ay2 := a[0]+a[2], a[1]+a[3]
	bx2, by2 := b[0]+b[2], b[1]+b[3]

	ix := min(ax2, bx2) - max(a[0], b[0])
	iy := min(ay2, by2) - max(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a[2]*a[3] + b[2]*b[3] - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampBBox(b [4]float64) [4]float64 {
	b[0] = clamp01(b[0])
	b[1] = clamp01(b[1])
	if b[0]+b[2] > 1 {
		b[2] = 1 - b[0]
	}
	if b[1]+b[3] > 1 {
		b[3] = 1 - b[1]
	}
	b[2] = clamp01(b[2])
	b[3] = clamp01(b[3])
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// imageToFloat32CHW converts an image to CHW float32 format scaled to [0,1].
func imageToFloat32CHW(img image.Image, targetW, targetH int) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			idx := y*w + x
			data[0*h*w+idx] = float32(r>>8) / 255.0
			data[1*h*w+idx] = float32(g>>8) / 255.0
			data[2*h*w+idx] = float32(b>>8) / 255.0
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropRegion extracts the normalized bbox region from the image.
func cropRegion(img image.Image, bbox [4]float64) image.Image {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	x1 := bounds.Min.X + int(bbox[0]*w)
	y1 := bounds.Min.Y + int(bbox[1]*h)
	x2 := bounds.Min.X + int((bbox[0]+bbox[2])*w)
	y2 := bounds.Min.Y + int((bbox[1]+bbox[3])*h)

	if x2 <= x1 || y2 <= y1 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}
