package normalize

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Candidate is the fixed-shape result of normalizing one model reply.
// Every field has a usable zero value and list fields are never nil.
type Candidate struct {
	FullName        string
	Email           string
	Phone           string
	GitHub          string
	LinkedIn        string
	Skills          []string
	YearsExperience int
	Education       string
	EducationList   []any
	KeyProjects     []any
	Internships     []any
	RawText         string
	RawTextLength   int
}

// SkillsText joins the skills for the compact record.
func (c Candidate) SkillsText() string {
	return strings.Join(c.Skills, ", ")
}

// Fallback chains, first non-empty source wins.
var (
	nameKeys        = []string{"full_name", "name"}
	emailKeys       = []string{"email_id", "email_address", "email"}
	phoneKeys       = []string{"mobile", "phone", "phone_number"}
	githubKeys      = []string{"github_portfolio", "github", "github_url"}
	linkedinKeys    = []string{"linkedin_id", "linkedin", "linkedin_url"}
	skillsKeys      = []string{"skills", "technical_skills", "technologies", "tech_stack", "skills_list"}
	experienceKeys  = []string{"work_experience", "years_experience", "experience_years"}
	educationKeys   = []string{"education_level", "highest_education", "education"}
	projectsKeys    = []string{"key_projects", "projects"}
	internshipsKeys = []string{"internships", "experience"}
)

// Normalize maps the decoded model reply onto a Candidate. rawText is the
// extracted document text; when it is empty the reply's own raw_text is used.
// fields may be nil.
func Normalize(fields map[string]any, rawText string) Candidate {
	f := canonicalKeys(fields)

	c := Candidate{
		FullName: String(first(f, nameKeys...)),
		Email:    String(first(f, emailKeys...)),
		Phone:    String(first(f, phoneKeys...)),
		GitHub:   String(first(f, githubKeys...)),
		LinkedIn: String(first(f, linkedinKeys...)),
		Skills:   Strings(first(f, skillsKeys...)),
	}

	if years := Int(first(f, experienceKeys...)); years > 0 {
		c.YearsExperience = years
	}

	eduVal := first(f, educationKeys...)
	c.Education = String(eduVal)
	if edu := f["education"]; truthy(edu) {
		c.EducationList = List(edu)
	} else {
		c.EducationList = List(eduVal)
	}

	c.KeyProjects = List(first(f, projectsKeys...))
	c.Internships = List(first(f, internshipsKeys...))

	c.RawText = strings.TrimSpace(rawText)
	if c.RawText == "" {
		c.RawText = String(f["raw_text"])
	}
	c.RawTextLength = utf8.RuneCountInString(c.RawText)

	return c
}

func first(fields map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

// canonicalKeys lowercases keys and folds spaces and hyphens to underscores, so
// "Full Name" and "full-name" both resolve as full_name. A key that is already
// canonical wins over a folded duplicate.
func canonicalKeys(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		ck := canonicalKey(k)
		if _, exists := out[ck]; !exists {
			out[ck] = fields[k]
		}
	}
	for _, k := range keys {
		if canonicalKey(k) == k {
			out[k] = fields[k]
		}
	}
	return out
}

func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}
