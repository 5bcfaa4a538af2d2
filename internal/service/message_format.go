package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/course-proposals/internal/models"
)

const receiptTimeLayout = "03:04PM"

// FormatProposalMessage renders the reviewer-facing summary of a proposal.
func FormatProposalMessage(proposalID string, payload *models.CoursePayload) string {
	if payload == nil {
		payload = &models.CoursePayload{}
	}
	course := payload.Course

	access, tech := "unknown", "none"
	var altTypes []string
	accessSet, techSet := false, false
	for _, ct := range payload.CourseTypes {
		switch ct.GroupKey {
		case "access":
			if !accessSet {
				access, accessSet = ct.TypeKey, true
			}
		case "tech":
			if !techSet {
				tech, techSet = ct.TypeKey, true
			}
		case "alternative_golf":
			altTypes = append(altTypes, ct.TypeKey)
		}
	}

	holes := "?"
	if course.Playability != nil && course.Playability.Holes != nil {
		holes = fmt.Sprint(course.Playability.Holes)
	}

	var address string
	if course.Address != nil {
		address = orDefault(course.Address.Formatted, "")
		if address == "" {
			address = orDefault(course.Address.Line1, "")
		}
	}

	typesLine := fmt.Sprintf("• %s holes • %s • tech: %s", holes, access, tech)
	if len(altTypes) > 0 {
		typesLine += " • alt: " + strings.Join(altTypes, ", ")
	}

	lines := []string{
		fmt.Sprintf("**%s** (%s, %s)", orDefault(course.Name, "Unnamed Course"), orDefault(course.City, ""), orDefault(course.State, "")),
		"",
		typesLine,
		"• " + address,
		fmt.Sprintf("• %s • %s", orDefault(course.Phone, "N/A"), orDefault(course.Domain, "N/A")),
		fmt.Sprintf("• Tee sets: %d • Holes data: %d • Amenities: %d", len(payload.TeeSets), len(payload.Holes), len(payload.Amenities)),
		"",
		fmt.Sprintf("Proposal: `%s`", proposalID),
	}
	return strings.Join(lines, "\n")
}

func ingestedReceipt(at time.Time, courseID, snapshotID string) string {
	return fmt.Sprintf("✅ **Ingested** at %s\nCourse ID: `%s`\nSnapshot: `%s`", at.Format(receiptTimeLayout), courseID, snapshotID)
}

func skippedReceipt() string {
	return "⏭️ **Skipped**"
}

func annotate(presentation, annotation string) string {
	return presentation + "\n\n" + annotation
}

func orDefault(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
