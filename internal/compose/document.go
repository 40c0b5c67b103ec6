package compose

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mcpfleet/internal/failure"
)

const (
	DynamicLabel     = "emcp.dynamic"
	DescriptionLabel = "emcp.description"
	containerSuffix  = "-mcp"
)

// ContainerName is the compose key and container name for a logical server name.
func ContainerName(name string) string {
	return name + containerSuffix
}

// LogicalName strips the container suffix, if present.
func LogicalName(containerName string) string {
	return strings.TrimSuffix(containerName, containerSuffix)
}

// ServiceSpec is the desired state of one tool-server container.
// EnvVars holds variable names only; values are resolved when the container starts.
type ServiceSpec struct {
	Image         string
	ContainerName string
	Command       []string
	EnvVars       []string
	Volumes       []string
	Labels        map[string]string
	Networks      []string
	Restart       string
	StdinOpen     bool
	TTY           bool
}

func (s ServiceSpec) Dynamic() bool {
	return s.Labels[DynamicLabel] == "true"
}

func (s ServiceSpec) Description() string {
	return s.Labels[DescriptionLabel]
}

// serviceEntry is the on-disk shape. Field order is the emitted key order.
type serviceEntry struct {
	Image         string            `yaml:"image" json:"image"`
	ContainerName string            `yaml:"container_name" json:"container_name"`
	Command       []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Environment   []string          `yaml:"environment,omitempty" json:"environment,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	StdinOpen     bool              `yaml:"stdin_open,omitempty" json:"stdin_open,omitempty"`
	TTY           bool              `yaml:"tty,omitempty" json:"tty,omitempty"`
	Networks      []string          `yaml:"networks,omitempty" json:"networks,omitempty"`
	Restart       string            `yaml:"restart,omitempty" json:"restart,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

func toEntry(spec ServiceSpec) serviceEntry {
	entry := serviceEntry{
		Image:         spec.Image,
		ContainerName: spec.ContainerName,
		Command:       spec.Command,
		Volumes:       spec.Volumes,
		StdinOpen:     spec.StdinOpen,
		TTY:           spec.TTY,
		Networks:      spec.Networks,
		Restart:       spec.Restart,
		Labels:        spec.Labels,
	}
	for _, name := range spec.EnvVars {
		entry.Environment = append(entry.Environment, fmt.Sprintf("%s=${%s}", name, name))
	}
	return entry
}

// Document is a parsed compose file. Mutations splice the original text so
// every byte outside the touched service entry is preserved.
type Document struct {
	raw         []byte
	root        *yaml.Node
	servicesKey *yaml.Node
	services    *yaml.Node
	nextTopKey  *yaml.Node
}

func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, failure.Composef("empty compose file")
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, failure.Compose("parse compose file", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, failure.Composef("compose file must be a mapping")
	}
	doc := &Document{raw: data, root: root.Content[0]}
	top := doc.root.Content
	for i := 0; i+1 < len(top); i += 2 {
		if top[i].Value != "services" {
			continue
		}
		doc.servicesKey = top[i]
		doc.services = top[i+1]
		if i+2 < len(top) {
			doc.nextTopKey = top[i+2]
		}
		break
	}
	if doc.servicesKey == nil {
		return nil, failure.Composef("no services section in compose file")
	}
	switch {
	case doc.services.Kind == yaml.MappingNode:
	case doc.services.Kind == yaml.ScalarNode && doc.services.Tag == "!!null":
	default:
		return nil, failure.Composef("services section must be a mapping")
	}
	return doc, nil
}

func (d *Document) Bytes() []byte {
	return append([]byte(nil), d.raw...)
}

func (d *Document) children() []*yaml.Node {
	if d.services.Kind != yaml.MappingNode {
		return nil
	}
	return d.services.Content
}

// ServiceNames returns the service keys in document order.
func (d *Document) ServiceNames() []string {
	var names []string
	kids := d.children()
	for i := 0; i+1 < len(kids); i += 2 {
		names = append(names, kids[i].Value)
	}
	return names
}

func (d *Document) HasService(key string) bool {
	return d.serviceIndex(key) >= 0
}

func (d *Document) serviceIndex(key string) int {
	kids := d.children()
	for i := 0; i+1 < len(kids); i += 2 {
		if kids[i].Value == key {
			return i
		}
	}
	return -1
}

// Service decodes one entry. Environment entries of the form VAR=${VAR},
// VAR=value and bare VAR all yield the name VAR.
func (d *Document) Service(key string) (ServiceSpec, bool, error) {
	idx := d.serviceIndex(key)
	if idx < 0 {
		return ServiceSpec{}, false, nil
	}
	value := d.children()[idx+1]
	var loose struct {
		Image         string            `yaml:"image"`
		ContainerName string            `yaml:"container_name"`
		Command       yaml.Node         `yaml:"command"`
		Environment   yaml.Node         `yaml:"environment"`
		Volumes       []string          `yaml:"volumes"`
		StdinOpen     bool              `yaml:"stdin_open"`
		TTY           bool              `yaml:"tty"`
		Networks      yaml.Node         `yaml:"networks"`
		Restart       string            `yaml:"restart"`
		Labels        map[string]string `yaml:"labels"`
	}
	if err := value.Decode(&loose); err != nil {
		return ServiceSpec{}, true, failure.Compose(fmt.Sprintf("decode service %q", key), err)
	}
	spec := ServiceSpec{
		Image:         loose.Image,
		ContainerName: loose.ContainerName,
		Volumes:       loose.Volumes,
		Labels:        loose.Labels,
		Restart:       loose.Restart,
		StdinOpen:     loose.StdinOpen,
		TTY:           loose.TTY,
	}
	if spec.ContainerName == "" {
		spec.ContainerName = key
	}
	spec.Command = stringsOrWords(&loose.Command)
	spec.Networks = sequenceOrKeys(&loose.Networks)
	spec.EnvVars = envNames(&loose.Environment)
	return spec, true, nil
}

func stringsOrWords(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var out []string
		_ = node.Decode(&out)
		return out
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil
		}
		return strings.Fields(node.Value)
	}
	return nil
}

func sequenceOrKeys(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var out []string
		_ = node.Decode(&out)
		return out
	case yaml.MappingNode:
		var out []string
		for i := 0; i+1 < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value)
		}
		return out
	}
	return nil
}

func envNames(node *yaml.Node) []string {
	var names []string
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			name, _, _ := strings.Cut(item.Value, "=")
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			names = append(names, node.Content[i].Value)
		}
		sort.Strings(names)
	}
	return names
}

// ErrServiceExists marks an AddService call for a key already present.
var ErrServiceExists = errors.New("service already exists")

// AddService appends a new entry at the end of the services mapping.
func (d *Document) AddService(key string, spec ServiceSpec) error {
	if d.HasService(key) {
		return &failure.Error{Kind: failure.KindCompose, Message: fmt.Sprintf("service '%s' already exists", key), Err: ErrServiceExists}
	}
	if d.services.Kind == yaml.MappingNode && d.services.Style&yaml.FlowStyle != 0 && len(d.services.Content) > 0 {
		return failure.Composef("flow-style services mapping is not supported")
	}
	lines := splitLines(d.raw)
	var out []string
	if len(d.children()) == 0 {
		keyIdx := d.servicesKey.Line - 1
		indent := strings.Repeat(" ", d.servicesKey.Column-1)
		rendered, err := renderEntry(key, spec, indent+"  ")
		if err != nil {
			return err
		}
		out = append(out, lines[:keyIdx]...)
		out = append(out, servicesKeyLine(lines[keyIdx], ""))
		out = append(out, rendered)
		out = append(out, lines[keyIdx+1:]...)
	} else {
		indent := strings.Repeat(" ", d.children()[0].Column-1)
		rendered, err := renderEntry(key, spec, indent)
		if err != nil {
			return err
		}
		at := d.servicesEnd(lines)
		out = append(out, lines[:at]...)
		if at > 0 && !strings.HasSuffix(out[len(out)-1], "\n") {
			out[len(out)-1] += "\n"
		}
		out = append(out, rendered)
		out = append(out, lines[at:]...)
	}
	return d.reparse(strings.Join(out, ""), key, true)
}

// RemoveService deletes an entry together with the comment lines directly above it.
func (d *Document) RemoveService(key string) (bool, error) {
	idx := d.serviceIndex(key)
	if idx < 0 {
		return false, nil
	}
	lines := splitLines(d.raw)
	kids := d.children()
	keyNode := kids[idx]
	col := keyNode.Column - 1

	start := keyNode.Line - 1
	for start > d.servicesKey.Line && isCommentAt(lines[start-1], col) {
		start--
	}

	var end int
	if idx+2 < len(kids) {
		end = kids[idx+2].Line - 1
		for end > start && isCommentAt(lines[end-1], col) {
			end--
		}
		for end > start && isBlank(lines[end-1]) {
			end--
		}
	} else {
		end = d.servicesEnd(lines)
	}

	var out []string
	out = append(out, lines[:start]...)
	if len(kids) == 2 {
		keyIdx := d.servicesKey.Line - 1
		out = out[:keyIdx]
		out = append(out, servicesKeyLine(lines[keyIdx], "{}"))
		out = append(out, lines[keyIdx+1:start]...)
	}
	out = append(out, lines[end:]...)
	if err := d.reparse(strings.Join(out, ""), key, false); err != nil {
		return false, err
	}
	return true, nil
}

// servicesKeyLine rewrites the value of the services key line and keeps its
// key text and any trailing comment.
func servicesKeyLine(line, value string) string {
	line = strings.TrimRight(line, "\r\n")
	colon := strings.Index(line, ":")
	if colon < 0 {
		return line + "\n"
	}
	out := line[:colon+1]
	if value != "" {
		out += " " + value
	}
	if i := strings.Index(line[colon+1:], "#"); i >= 0 {
		out += " " + strings.TrimSpace(line[colon+1+i:])
	}
	return out + "\n"
}

// servicesEnd is the line index just past the last content line of the services block.
func (d *Document) servicesEnd(lines []string) int {
	end := len(lines)
	if d.nextTopKey != nil {
		end = d.nextTopKey.Line - 1
	}
	floor := d.servicesKey.Line
	for end > floor && (isBlank(lines[end-1]) || isCommentAt(lines[end-1], 0)) {
		end--
	}
	return end
}

func (d *Document) reparse(text string, key string, wantPresent bool) error {
	next, err := Parse([]byte(text))
	if err != nil {
		return failure.Compose("edited document no longer parses", err)
	}
	if next.HasService(key) != wantPresent {
		return failure.Composef("edited document has unexpected state for service %q", key)
	}
	*d = *next
	return nil
}

func renderEntry(key string, spec ServiceSpec, indent string) (string, error) {
	var value yaml.Node
	if err := value.Encode(toEntry(spec)); err != nil {
		return "", failure.Compose("encode service", err)
	}
	wrapper := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: key},
			&value,
		},
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(wrapper); err != nil {
		return "", failure.Compose("encode service", err)
	}
	if err := enc.Close(); err != nil {
		return "", failure.Compose("encode service", err)
	}
	var b strings.Builder
	for _, line := range splitLines(buf.Bytes()) {
		if strings.TrimSpace(line) == "" {
			b.WriteString(line)
			continue
		}
		b.WriteString(indent)
		b.WriteString(line)
	}
	return b.String(), nil
}

// splitLines keeps line terminators so joining restores the exact text.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := string(data)
	var lines []string
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, text[:i+1])
		text = text[i+1:]
	}
	return lines
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isCommentAt(line string, col int) bool {
	trimmed := strings.TrimLeft(line, " ")
	return strings.HasPrefix(trimmed, "#") && len(line)-len(trimmed) == col
}
