// Package validate scores candidate extractions for completeness and
// cleanliness. Scoring is deterministic and side-effect free: the same
// candidate always produces the same report.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// Issue codes produced by the validator itself. Strategies may attach
// further codes through candidate notes.
const (
	IssueEmptyCandidate   = "empty-candidate"
	IssueLowItemCount     = "low-item-count"
	IssueMissingTitles    = "missing-titles"
	IssueContamination    = "contamination"
	IssueWrongContentType = "wrong-content-type"
)

// contaminationWords mark excluded-category imagery that slipped past the
// strategy filters (profile pictures, avatars, site chrome).
var contaminationWords = []string{"avatar", "profile", "favicon", "icon-", "logo"}

// DefaultConfig returns the validator defaults. Weights and thresholds are
// starting points, not calibrated ground truth; override them in
// configuration when tuning against a labeled corpus.
func DefaultConfig() config.ValidatorConfig {
	return config.ValidatorConfig{
		CountWeight:          0.25,
		MediaWeight:          0.25,
		MetadataWeight:       0.30,
		ContaminationPenalty: 0.20,
		ExpectedMinItems:     10,
		AcceptThreshold:      0.7,
		HardFailCodes:        []string{IssueWrongContentType},
	}
}

// ValidateConfig checks that a ValidatorConfig is internally consistent.
func ValidateConfig(c config.ValidatorConfig) error {
	var errs []string

	weights := map[string]float64{
		"count_weight":          c.CountWeight,
		"media_weight":          c.MediaWeight,
		"metadata_weight":       c.MetadataWeight,
		"contamination_penalty": c.ContaminationPenalty,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	if c.CountWeight+c.MediaWeight+c.MetadataWeight <= 0 {
		errs = append(errs, "positive weight sum required")
	}
	if c.ExpectedMinItems <= 0 {
		errs = append(errs, "expected_min_items must be > 0")
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		errs = append(errs, "accept_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.New("invalid validator config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Validator scores candidates against configured weights.
type Validator struct {
	cfg config.ValidatorConfig
}

// New creates a Validator. The config must have passed ValidateConfig.
func New(cfg config.ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate rates one candidate. The score combines item-count adequacy,
// valid-media ratio, and metadata completeness, normalized over their
// weights, then subtracts a contamination penalty proportional to the share
// of excluded-category items. Hard-fail issue codes force Valid to false
// regardless of score.
func (v *Validator) Validate(c *model.Candidate) model.Report {
	report := model.Report{
		Issues: noteIssues(c.Notes),
	}

	total := len(c.Items)
	report.Metrics.ItemCount = total

	if total == 0 {
		report.Issues = append(report.Issues, model.Issue{
			Code:    IssueEmptyCandidate,
			Message: "strategy produced no items",
		})
		report.Valid = false
		return report
	}

	var withMedia, withMetadata, contaminated int
	for _, item := range c.Items {
		if validMedia(item) {
			withMedia++
		}
		if item.Title != "" && item.SourceURL != "" {
			withMetadata++
		}
		if isContaminated(item) {
			contaminated++
		}
	}

	countScore := math.Min(1, float64(total)/float64(v.cfg.ExpectedMinItems))
	mediaRatio := float64(withMedia) / float64(total)
	metadataRatio := float64(withMetadata) / float64(total)

	report.Metrics.ValidMediaRatio = mediaRatio
	report.Metrics.MetadataCompleteness = metadataRatio
	report.Metrics.ContaminationCount = contaminated

	weightSum := v.cfg.CountWeight + v.cfg.MediaWeight + v.cfg.MetadataWeight
	score := (v.cfg.CountWeight*countScore +
		v.cfg.MediaWeight*mediaRatio +
		v.cfg.MetadataWeight*metadataRatio) / weightSum

	if contaminated > 0 {
		share := math.Min(1, float64(contaminated)/float64(total))
		score -= v.cfg.ContaminationPenalty * share
		report.Issues = append(report.Issues, model.Issue{
			Code:    IssueContamination,
			Message: fmt.Sprintf("%d excluded-category items in result", contaminated),
		})
	}

	report.Score = math.Max(0, math.Min(1, score))

	if total < v.cfg.ExpectedMinItems {
		report.Issues = append(report.Issues, model.Issue{
			Code:    IssueLowItemCount,
			Message: fmt.Sprintf("%d items, expected at least %d", total, v.cfg.ExpectedMinItems),
		})
	}
	if withMetadata < total {
		report.Issues = append(report.Issues, model.Issue{
			Code:    IssueMissingTitles,
			Message: fmt.Sprintf("%d of %d items missing title or canonical url", total-withMetadata, total),
		})
	}

	report.Valid = report.Score >= v.cfg.AcceptThreshold && !v.hardFailed(report.Issues)
	return report
}

func (v *Validator) hardFailed(issues []model.Issue) bool {
	for _, issue := range issues {
		for _, code := range v.cfg.HardFailCodes {
			if issue.Code == code {
				return true
			}
		}
	}
	return false
}

// noteIssues parses strategy notes of the form "code: message" into issues.
// Notes without a code separator are carried under a generic code.
func noteIssues(notes []string) []model.Issue {
	if len(notes) == 0 {
		return nil
	}
	issues := make([]model.Issue, 0, len(notes))
	for _, note := range notes {
		code, msg, found := strings.Cut(note, ":")
		if !found {
			issues = append(issues, model.Issue{Code: "note", Message: note})
			continue
		}
		issues = append(issues, model.Issue{
			Code:    strings.TrimSpace(code),
			Message: strings.TrimSpace(msg),
		})
	}
	return issues
}

func validMedia(item model.Artifact) bool {
	for _, u := range item.MediaURLs {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") ||
			strings.HasPrefix(u, "ipfs://") {
			return true
		}
	}
	return false
}

func isContaminated(item model.Artifact) bool {
	probe := strings.ToLower(item.Title)
	for _, u := range item.MediaURLs {
		probe += " " + strings.ToLower(u)
	}
	if alt, ok := item.Attributes["alt"]; ok {
		probe += " " + strings.ToLower(alt)
	}
	for _, w := range contaminationWords {
		if strings.Contains(probe, w) {
			return true
		}
	}
	return false
}
