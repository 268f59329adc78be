package channel

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"gopkg.in/yaml.v3"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/provider/email"
)

//go:embed templates.yaml
var defaultCatalogYAML []byte

type categorySpec struct {
	Label   string `yaml:"label"`
	Subject string `yaml:"subject"`
	Heading string `yaml:"heading"`
	Action  string `yaml:"action"`
}

type digestSpec struct {
	Subject string `yaml:"subject"`
	Layout  string `yaml:"layout"`
	Text    string `yaml:"text"`
}

type catalogFile struct {
	Layout     string                  `yaml:"layout"`
	Text       string                  `yaml:"text"`
	Categories map[string]categorySpec `yaml:"categories"`
	Digest     digestSpec              `yaml:"digest"`
}

type categoryTemplates struct {
	label   string
	heading string
	action  string
	subject *texttemplate.Template
}

// Catalog renders notification and digest emails.
type Catalog struct {
	layout     *htmltemplate.Template
	text       *texttemplate.Template
	categories map[domain.Category]categoryTemplates

	digestSubject *texttemplate.Template
	digestLayout  *htmltemplate.Template
	digestText    *texttemplate.Template

	portalURL string
}

// LoadCatalog parses the embedded catalog. Relative links are prefixed with
// portalURL.
func LoadCatalog(portalURL string) (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML, portalURL)
}

// ParseCatalog parses a YAML catalog. Every category must be present.
func ParseCatalog(data []byte, portalURL string) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse email catalog: %w", err)
	}

	c := &Catalog{
		categories: make(map[domain.Category]categoryTemplates, len(domain.Categories)),
		portalURL:  strings.TrimRight(portalURL, "/"),
	}
	var err error
	if c.layout, err = htmltemplate.New("layout").Parse(file.Layout); err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	if c.text, err = texttemplate.New("text").Parse(file.Text); err != nil {
		return nil, fmt.Errorf("parse email text: %w", err)
	}

	for _, cat := range domain.Categories {
		entry, ok := file.Categories[string(cat)]
		if !ok {
			return nil, fmt.Errorf("email catalog has no entry for category %s", cat)
		}
		subject, err := texttemplate.New(string(cat)).Parse(entry.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", cat, err)
		}
		c.categories[cat] = categoryTemplates{
			label:   entry.Label,
			heading: entry.Heading,
			action:  entry.Action,
			subject: subject,
		}
	}
	for key := range file.Categories {
		if _, err := domain.ParseCategory(key); err != nil {
			return nil, fmt.Errorf("email catalog: %w", err)
		}
	}

	if c.digestSubject, err = texttemplate.New("digest-subject").Parse(file.Digest.Subject); err != nil {
		return nil, fmt.Errorf("parse digest subject: %w", err)
	}
	if c.digestLayout, err = htmltemplate.New("digest-layout").Parse(file.Digest.Layout); err != nil {
		return nil, fmt.Errorf("parse digest layout: %w", err)
	}
	if c.digestText, err = texttemplate.New("digest-text").Parse(file.Digest.Text); err != nil {
		return nil, fmt.Errorf("parse digest text: %w", err)
	}
	return c, nil
}

type notificationView struct {
	RecipientName string
	Heading       string
	Title         string
	Message       string
	Link          string
	Action        string
}

// RenderNotification renders the email for a single notification. A
// non-empty subjectOverride replaces the catalog subject.
func (c *Catalog) RenderNotification(n *domain.Notification, contact domain.Contact, subjectOverride string) (email.Message, error) {
	tmpl, ok := c.categories[n.Type]
	if !ok {
		return email.Message{}, fmt.Errorf("no email template for category %q", n.Type)
	}

	view := notificationView{
		RecipientName: recipientName(contact),
		Heading:       tmpl.heading,
		Title:         n.Title,
		Message:       n.Message,
		Link:          c.absoluteLink(n.Link),
		Action:        tmpl.action,
	}

	subject := strings.TrimSpace(subjectOverride)
	if subject == "" {
		rendered, err := execText(tmpl.subject, view)
		if err != nil {
			return email.Message{}, fmt.Errorf("render %s subject: %w", n.Type, err)
		}
		subject = rendered
	}
	html, err := execHTML(c.layout, view)
	if err != nil {
		return email.Message{}, fmt.Errorf("render %s body: %w", n.Type, err)
	}
	text, err := execText(c.text, view)
	if err != nil {
		return email.Message{}, fmt.Errorf("render %s text: %w", n.Type, err)
	}

	return email.Message{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: singleLine(subject),
		HTML:    html,
		Text:    text,
	}, nil
}

type digestItem struct {
	Label   string
	Title   string
	Message string
	Link    string
	When    string
}

type digestView struct {
	RecipientName string
	Frequency     string
	Count         int
	Items         []digestItem
}

// RenderDigest renders one digest email for items, oldest first. Times are
// shown in loc.
func (c *Catalog) RenderDigest(contact domain.Contact, frequency domain.DigestFrequency, items []*domain.Notification, loc *time.Location) (email.Message, error) {
	if loc == nil {
		loc = time.UTC
	}
	view := digestView{
		RecipientName: recipientName(contact),
		Frequency:     string(frequency),
		Count:         len(items),
		Items:         make([]digestItem, 0, len(items)),
	}
	for _, n := range items {
		label := string(n.Type)
		if tmpl, ok := c.categories[n.Type]; ok && tmpl.label != "" {
			label = tmpl.label
		}
		view.Items = append(view.Items, digestItem{
			Label:   label,
			Title:   n.Title,
			Message: n.Message,
			Link:    c.absoluteLink(n.Link),
			When:    n.CreatedAt.In(loc).Format("Jan 2, 15:04"),
		})
	}

	subject, err := execText(c.digestSubject, view)
	if err != nil {
		return email.Message{}, fmt.Errorf("render digest subject: %w", err)
	}
	html, err := execHTML(c.digestLayout, view)
	if err != nil {
		return email.Message{}, fmt.Errorf("render digest body: %w", err)
	}
	text, err := execText(c.digestText, view)
	if err != nil {
		return email.Message{}, fmt.Errorf("render digest text: %w", err)
	}

	return email.Message{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: singleLine(subject),
		HTML:    html,
		Text:    text,
	}, nil
}

func (c *Catalog) absoluteLink(link string) string {
	if link == "" || c.portalURL == "" || !strings.HasPrefix(link, "/") {
		return link
	}
	return c.portalURL + link
}

func recipientName(contact domain.Contact) string {
	if name := strings.TrimSpace(contact.Name); name != "" {
		return name
	}
	return "there"
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func execText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func execHTML(t *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
