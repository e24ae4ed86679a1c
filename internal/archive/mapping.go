package archive

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/certly/internal/element"
)

var mappingKinds = map[string]string{
	"module": element.MapCourseModule,
	"cm":     element.MapCourseModule,
	"grade":  element.MapGradeItem,
	"user":   element.MapUser,
	"course": element.MapCourse,
}

// ParseMapping records an id mapping written as kind:old=new, for example
// module:4=40. Kinds are module, grade, user and course.
func ParseMapping(rc *element.RestoreContext, s string) error {
	kind, ids, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return fmt.Errorf("mapping %q: want kind:old=new", s)
	}
	oldStr, newStr, ok := strings.Cut(ids, "=")
	if !ok {
		return fmt.Errorf("mapping %q: want kind:old=new", s)
	}
	oldID, err := strconv.ParseInt(strings.TrimSpace(oldStr), 10, 64)
	if err != nil || oldID <= 0 {
		return fmt.Errorf("mapping %q: bad source id", s)
	}
	newID, err := strconv.ParseInt(strings.TrimSpace(newStr), 10, 64)
	if err != nil || newID <= 0 {
		return fmt.Errorf("mapping %q: bad target id", s)
	}
	if err := addMapping(rc, kind, oldID, newID); err != nil {
		return fmt.Errorf("mapping %q: %w", s, err)
	}
	return nil
}

// LoadMappingFile records the id mappings of a YAML file keyed by kind:
//
//	module:
//	  4: 40
//	grade:
//	  7: 70
func LoadMappingFile(rc *element.RestoreContext, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}
	var doc map[string]map[int64]int64
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse mapping file: %w", err)
	}

	kinds := make([]string, 0, len(doc))
	for kind := range doc {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for oldID, newID := range doc[kind] {
			if oldID <= 0 || newID <= 0 {
				return fmt.Errorf("mapping file %s: %s ids must be positive", path, kind)
			}
			if err := addMapping(rc, kind, oldID, newID); err != nil {
				return fmt.Errorf("mapping file %s: %w", path, err)
			}
		}
	}
	return nil
}

func addMapping(rc *element.RestoreContext, kind string, oldID, newID int64) error {
	mapped, ok := mappingKinds[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}
	rc.Add(mapped, oldID, newID)
	return nil
}
