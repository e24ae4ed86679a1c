package types

import (
	"context"
	"strconv"
	"strings"

	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// StudentName prints the full name of the learner
type StudentName struct{ base }

func NewStudentName() *StudentName {
	return &StudentName{base{typ: "studentname", title: "Student name"}}
}

func (t *StudentName) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	u := req.Subject.User
	if u == nil {
		if req.Preview {
			return req.Text(s, "Student name")
		}
		return unavailable("user")
	}
	return req.Text(s, u.FullName())
}

func (t *StudentName) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{}
}

// profilePrefix marks custom profile fields in a userfield payload
const profilePrefix = "profile_"

var userFieldOptions = options(
	"firstname", "First name",
	"lastname", "Last name",
	"email", "Email address",
	"username", "Username",
	"idnumber", "ID number",
	"institution", "Institution",
	"department", "Department",
	"phone", "Phone",
	"address", "Address",
	"city", "City",
	"country", "Country",
)

// UserField prints one field of the learner's profile
type UserField struct{ base }

func NewUserField() *UserField {
	return &UserField{base{typ: "userfield", title: "User field"}}
}

func (t *UserField) field() form.Field {
	return form.Field{Key: "value", Type: form.TypeSelect, Label: "User field", Options: userFieldOptions, Required: true,
		Help: "Custom profile fields are named profile_<shortname>"}
}

func (t *UserField) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{t.field()}
}

func (t *UserField) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	v := values.Get("value")
	if strings.HasPrefix(v, profilePrefix) && len(v) > len(profilePrefix) {
		return errs
	}
	requireOption(errs, values, t.field())
	return errs
}

func (t *UserField) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	key := req.Payload.String("value")
	u := req.Subject.User
	if u == nil {
		if req.Preview {
			return req.Text(s, key)
		}
		return unavailable("user")
	}
	return req.Text(s, userFieldValue(u, key))
}

func (t *UserField) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "value", Codec: codec.String{}}}
}

func userFieldValue(u *lms.User, key string) string {
	if name, ok := strings.CutPrefix(key, profilePrefix); ok {
		return u.Profile[name]
	}
	switch key {
	case "firstname":
		return u.FirstName
	case "lastname":
		return u.LastName
	case "email":
		return u.Email
	case "username":
		return u.Username
	case "idnumber":
		return u.IDNumber
	case "institution":
		return u.Institution
	case "department":
		return u.Department
	case "phone":
		return u.Phone
	case "address":
		return u.Address
	case "city":
		return u.City
	case "country":
		return u.Country
	}
	return ""
}

// TeacherName prints the name of a chosen course teacher
type TeacherName struct{ base }

func NewTeacherName() *TeacherName {
	return &TeacherName{base{typ: "teachername", title: "Teacher name"}}
}

func (t *TeacherName) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	f := form.Field{Key: "teacher", Type: form.TypeUser, Label: "Teacher", Required: true}
	if subject.Course != nil && env != nil && env.Directory != nil {
		teachers, err := env.Directory.CourseTeachers(ctx, subject.Course.ID)
		if err == nil {
			f.Type = form.TypeSelect
			for _, u := range teachers {
				f.Options = append(f.Options, form.Option{Value: strconv.FormatInt(u.ID, 10), Label: u.FullName()})
			}
		}
	}
	return []form.Field{f}
}

func (t *TeacherName) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	errs := form.Errors{}
	id, err := strconv.ParseInt(values.Get("teacher"), 10, 64)
	if err != nil || id <= 0 {
		errs.Add("teacher", "choose a teacher")
		return errs
	}
	if env != nil && env.Directory != nil {
		if _, err := env.Directory.User(ctx, id); err != nil {
			errs.Add("teacher", "unknown user")
		}
	}
	return errs
}

func (t *TeacherName) Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error) {
	id, err := strconv.ParseInt(values.Get("teacher"), 10, 64)
	if err != nil {
		return nil, codec.Recoverable("teacher", "not a user id")
	}
	return payload.Payload{"teacher": id}, nil
}

func (t *TeacherName) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	id, ok := idValue(req.Payload, "teacher")
	if !ok {
		return codec.Recoverable("teacher", "no teacher chosen")
	}
	u, err := req.Env.Directory.User(ctx, id)
	if err != nil {
		return element.Lookup("teacher", err)
	}
	return req.Text(s, u.FullName())
}

// PortableFields maps the teacher through the user mapping before the
// cached name is compared, so no after-restore pass is needed.
func (t *TeacherName) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "teacher", Codec: codec.User{Users: port.Directory, Remap: port.LocalUser}}}
}

// UserPicture draws the learner's profile picture
type UserPicture struct{ base }

func NewUserPicture() *UserPicture {
	return &UserPicture{base{typ: "userpicture", title: "User picture"}}
}

func (t *UserPicture) Controls() []string {
	return []string{element.ControlPosX, element.ControlPosY, element.ControlWidth, element.ControlRefPoint}
}

func (t *UserPicture) FormFields(ctx context.Context, env *element.Env, subject element.Subject) []form.Field {
	return []form.Field{{Key: "height", Type: form.TypeNumber, Label: "Height", Help: "0 keeps the aspect ratio", Default: "0", Min: codec.Ptr(0)}}
}

func (t *UserPicture) Validate(ctx context.Context, env *element.Env, values form.Values) form.Errors {
	return validateSize(values, "height")
}

func (t *UserPicture) Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error) {
	p := payload.Payload{}
	if v, ok, _ := values.Number("height"); ok {
		p["height"] = v
	}
	return p, nil
}

func (t *UserPicture) Render(ctx context.Context, s surface.Surface, req *element.Request) error {
	height, _ := req.Payload.Float("height")
	u := req.Subject.User
	if u == nil || u.Picture == "" {
		if req.Preview {
			return placeholder(s, req, height)
		}
		if u == nil {
			return unavailable("user")
		}
		return nil
	}
	img, err := loadImage(ctx, req.Env.Files, u.Picture)
	if err != nil {
		return err
	}
	return s.Image(req.Box(), height, img)
}

func (t *UserPicture) PortableFields(port *element.Port) codec.Fields {
	return codec.Fields{{Key: "height", Codec: codec.Float{Min: codec.Ptr(0)}, Optional: true}}
}

func validateSize(values form.Values, key string) form.Errors {
	errs := form.Errors{}
	v, ok, err := values.Number(key)
	if err != nil {
		errs.Add(key, "must be a number")
	} else if ok && v < 0 {
		errs.Add(key, "must be at least 0")
	}
	return errs
}

// placeholder outlines the area a picture would take
func placeholder(s surface.Surface, req *element.Request, height float64) error {
	b := req.Box()
	w := b.Width
	if w <= 0 {
		w = 30
	}
	if height <= 0 {
		height = w
	}
	return s.Rect(b.Left(w), b.Y, w, height, 0.3, "#999999")
}

// loadImage reads a stored file for drawing
func loadImage(ctx context.Context, files filestore.Store, id string) (surface.Image, error) {
	if files == nil {
		return surface.Image{}, unavailable("file")
	}
	data, ref, err := filestore.ReadAll(ctx, files, id)
	if err != nil {
		return surface.Image{}, element.Lookup("file", err)
	}
	return surface.Image{Key: ref.ID, Name: ref.Name, MimeType: ref.MimeType, Data: data}, nil
}
