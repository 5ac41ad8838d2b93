package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/smallbiznis/feedbackhub/internal/dashboard/domain"
)

const maxPhrasesInRow = 3

type PDFRenderer struct {
	title string
}

func NewPDFRenderer() domain.Renderer {
	return &PDFRenderer{title: "Feedback report"}
}

func (r *PDFRenderer) Render(ctx context.Context, summary domain.Summary) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(8, r.title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Generated "+summary.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"), props.Text{
			Size:  9,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(12,
		col.New(6).Add(
			text.New(fmt.Sprintf("Total submissions: %d", summary.Total), props.Text{Top: 0}),
			text.New(fmt.Sprintf("With attachment: %d", summary.WithAttachment), props.Text{Top: 5}),
		),
		col.New(6),
	)

	m.AddRow(10, text.NewCol(12, "Sentiment", props.Text{Size: 12, Style: fontstyle.Bold, Top: 3}))
	for _, s := range summary.Sentiments {
		m.AddRow(7,
			text.NewCol(4, s.Sentiment, props.Text{Size: 9}),
			text.NewCol(4, fmt.Sprintf("%d", s.Count), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(4, fmt.Sprintf("%.1f%%", s.Share*100), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10, text.NewCol(12, "Recent submissions", props.Text{Size: 12, Style: fontstyle.Bold, Top: 3}))
	m.AddRow(8,
		text.NewCol(3, "Received", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Name", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Sentiment", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Key phrases", props.Text{Style: fontstyle.Bold, Size: 9}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(summary.Recent) == 0 {
		m.AddRow(8, text.NewCol(12, "No feedback yet.", props.Text{Size: 9}))
	}
	for _, f := range summary.Recent {
		sentiment := domain.SentimentUnanalyzed
		if f.Sentiment != nil {
			sentiment = *f.Sentiment
		}
		m.AddRow(8,
			text.NewCol(3, f.CreatedAt.UTC().Format("2006-01-02 15:04"), props.Text{Size: 8}),
			text.NewCol(3, f.Name, props.Text{Size: 8}),
			text.NewCol(2, sentiment, props.Text{Size: 8}),
			text.NewCol(4, phrases(f.KeyPhrases), props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func phrases(p []string) string {
	if len(p) > maxPhrasesInRow {
		return strings.Join(p[:maxPhrasesInRow], ", ") + ", ..."
	}
	return strings.Join(p, ", ")
}
