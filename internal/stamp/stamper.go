package stamp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"

	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
	applog "github.com/orrn/printagent/internal/log"
)

const (
	defaultInsetMM   = 5.0
	defaultSizeMM    = 18.0
	defaultPaddingMM = 1.5
)

var disableConfigDir sync.Once

// Stamper draws a QR code of the mark text onto the last page of a PDF.
type Stamper struct {
	scratchDir string
	insetMM    float64
	sizeMM     float64
	paddingMM  float64
	logger     zerolog.Logger
}

func NewStamper(cfg *config.StampConfig, scratchDir string) *Stamper {
	disableConfigDir.Do(api.DisableConfigDir)

	s := &Stamper{
		scratchDir: scratchDir,
		insetMM:    defaultInsetMM,
		sizeMM:     defaultSizeMM,
		paddingMM:  defaultPaddingMM,
		logger:     applog.WithComponent("stamp"),
	}
	if cfg != nil {
		if cfg.InsetMM >= 0 {
			s.insetMM = cfg.InsetMM
		}
		if cfg.SizeMM > 0 {
			s.sizeMM = cfg.SizeMM
		}
		if cfg.PaddingMM >= 0 {
			s.paddingMM = cfg.PaddingMM
		}
	}
	if s.scratchDir == "" {
		s.scratchDir = os.TempDir()
	}
	return s
}

// Stamp writes a copy of docPath carrying mark and returns the new path. An
// empty mark produces an unmodified copy.
func (s *Stamper) Stamp(ctx context.Context, docPath, mark string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return "", core.NewError(core.ErrMark, "create scratch dir", err)
	}
	outPath := filepath.Join(s.scratchDir, uuid.NewString()+"-stamped.pdf")

	if mark == "" {
		if err := copyFile(docPath, outPath); err != nil {
			return "", core.NewError(core.ErrMark, "copy "+filepath.Base(docPath), err)
		}
		return outPath, nil
	}

	if err := s.stamp(docPath, outPath, mark); err != nil {
		os.Remove(outPath)
		return "", core.NewError(core.ErrMark, "stamp "+filepath.Base(docPath), err)
	}
	return outPath, nil
}

func (s *Stamper) stamp(docPath, outPath, mark string) error {
	pageCount, err := api.PageCountFile(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if pageCount == 0 {
		return fmt.Errorf("document has no pages")
	}

	pdfCtx, err := api.ReadContextFile(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	bounds, err := pdfCtx.PageBoundaries(types.IntSet{pageCount: true})
	if err != nil {
		return fmt.Errorf("read page %d boxes: %w", pageCount, err)
	}
	if len(bounds) == 0 {
		return fmt.Errorf("page %d has no boundaries", pageCount)
	}
	pb := bounds[len(bounds)-1]

	b := convertBoundaries(pb)
	box := PickVisibleBox(b)
	size := MMToPt(s.sizeMM)
	inset := InsetPt(s.insetMM)
	pad := MMToPt(s.paddingMM)
	placement := PlaceMark(box, pb.Rot, size, inset)

	pngData, edgePx, err := RenderCode(mark, pad/size)
	if err != nil {
		return err
	}
	pngPath := filepath.Join(s.scratchDir, uuid.NewString()+"-mark.png")
	if err := renameio.WriteFile(pngPath, pngData, 0o600); err != nil {
		return fmt.Errorf("write mark image: %w", err)
	}
	defer os.Remove(pngPath)

	// pdfcpu folds the page rotation into the content stream and draws the
	// image in the resulting upright frame, anchored at the viewport's
	// lower-left corner.
	vp := viewport(b)
	edge := size + 2*pad
	ux, uy := Upright(placement.X-pad, placement.Y-pad, edge, placement.Rotate, vp.W, vp.H)
	desc := watermarkDescription(ux-vp.X, uy-vp.Y, edge/float64(edgePx))

	s.logger.Debug().
		Str(applog.FieldSerial, mark).
		Int("page", pageCount).
		Int("rotation", placement.Rotate).
		Float64("x", placement.X).
		Float64("y", placement.Y).
		Msg("placing mark")

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages := []string{strconv.Itoa(pageCount)}
	if err := api.AddImageWatermarksFile(docPath, outPath, pages, true, pngPath, desc, conf); err != nil {
		return fmt.Errorf("draw mark: %w", err)
	}
	return nil
}

func convertBoundaries(pb model.PageBoundaries) Boundaries {
	b := Boundaries{
		Trim:  rectBox(pb.Trim),
		Crop:  rectBox(pb.Crop),
		Bleed: rectBox(pb.Bleed),
		Art:   rectBox(pb.Art),
		Media: rectBox(pb.Media),
	}
	if b.Media != nil {
		b.PageW, b.PageH = b.Media.W, b.Media.H
	}
	return b
}

func rectBox(b *model.Box) *Box {
	if b == nil || b.Rect == nil {
		return nil
	}
	return &Box{X: b.Rect.LL.X, Y: b.Rect.LL.Y, W: b.Rect.Width(), H: b.Rect.Height()}
}

// viewport is the crop box, else the media box.
func viewport(b Boundaries) Box {
	for _, box := range []*Box{b.Crop, b.Media} {
		if box != nil && box.valid() {
			return *box
		}
	}
	return Box{}
}

// watermarkDescription builds the image watermark settings for an anchored,
// absolutely scaled, upright, fully opaque mark.
func watermarkDescription(dx, dy, scale float64) string {
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, scalefactor:%.4f abs, rot:0, op:1", dx, dy, scale)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o600))
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
