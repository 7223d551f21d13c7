package rendering

// Object is the wire form of a single render descriptor: a flat bag of
// fields the rendering collaborator draws from. Environments emit these from
// their render call; the driver sanitizes them before they leave the process.
type Object map[string]any

// Object type discriminators, stored under the "object_type" key.
const (
	ObjectTypeSprite     = "sprite"
	ObjectTypeLine       = "line"
	ObjectTypeCircle     = "circle"
	ObjectTypePolygon    = "polygon"
	ObjectTypeText       = "text"
	ObjectTypeAtlas      = "atlas_spec"
	ObjectTypeMultiAtlas = "multi_atlas_spec"
	ObjectTypeImg        = "img_spec"
)

// Type returns the object's discriminator, or "" when absent.
func (o Object) Type() string {
	t, _ := o["object_type"].(string)
	return t
}

// UUID returns the object's identifier, or "" when absent.
func (o Object) UUID() string {
	id, _ := o["uuid"].(string)
	return id
}

// Sprite describes a textured game object for one frame.
type Sprite struct {
	UUID          string
	X             int
	Y             int
	Height        int
	Width         int
	ImageName     string
	Frame         any
	ObjectSize    int
	Angle         float64
	Depth         int
	Animation     string
	Tween         bool
	TweenDuration int
	Permanent     bool
}

// AsObject projects the sprite to its wire form. Absent optional fields are
// emitted as explicit nulls, never dropped.
func (s Sprite) AsObject() Object {
	depth := s.Depth
	if depth == 0 {
		depth = 1
	}
	tweenDuration := s.TweenDuration
	if tweenDuration == 0 {
		tweenDuration = 50
	}
	return Object{
		"uuid":           s.UUID,
		"x":              s.X,
		"y":              s.Y,
		"height":         s.Height,
		"width":          s.Width,
		"image_name":     stringOrNil(s.ImageName),
		"frame":          s.Frame,
		"object_size":    intOrNil(s.ObjectSize),
		"angle":          s.Angle,
		"depth":          depth,
		"animation":      stringOrNil(s.Animation),
		"object_type":    ObjectTypeSprite,
		"tween":          s.Tween,
		"tween_duration": tweenDuration,
		"permanent":      s.Permanent,
	}
}

// Line describes a polyline, optionally filled above or below.
type Line struct {
	UUID      string
	Color     string
	Width     int
	Points    [][2]float64
	FillBelow bool
	FillAbove bool
	Depth     int
	Permanent bool
}

func (l Line) AsObject() Object {
	return Object{
		"uuid":        l.UUID,
		"color":       l.Color,
		"width":       l.Width,
		"points":      pointsToAny(l.Points),
		"object_type": ObjectTypeLine,
		"fill_below":  l.FillBelow,
		"fill_above":  l.FillAbove,
		"depth":       defaultDepth(l.Depth),
		"permanent":   l.Permanent,
	}
}

// Circle describes a filled circle.
type Circle struct {
	UUID      string
	Color     string
	X         float64
	Y         float64
	Radius    int
	Alpha     float64
	Depth     int
	Permanent bool
}

func (c Circle) AsObject() Object {
	alpha := c.Alpha
	if alpha == 0 {
		alpha = 1
	}
	return Object{
		"uuid":        c.UUID,
		"color":       c.Color,
		"x":           c.X,
		"y":           c.Y,
		"radius":      c.Radius,
		"alpha":       alpha,
		"object_type": ObjectTypeCircle,
		"depth":       defaultDepth(c.Depth),
		"permanent":   c.Permanent,
	}
}

// Polygon describes a filled polygon.
type Polygon struct {
	UUID      string
	Color     string
	Points    [][2]float64
	Alpha     float64
	Depth     int
	Permanent bool
}

func (p Polygon) AsObject() Object {
	alpha := p.Alpha
	if alpha == 0 {
		alpha = 1
	}
	return Object{
		"uuid":        p.UUID,
		"color":       p.Color,
		"points":      pointsToAny(p.Points),
		"alpha":       alpha,
		"object_type": ObjectTypePolygon,
		"depth":       defaultDepth(p.Depth),
		"permanent":   p.Permanent,
	}
}

// Text describes an on-screen text label.
type Text struct {
	UUID      string
	Text      string
	X         float64
	Y         float64
	Size      int
	Color     string
	Font      string
	Depth     int
	Permanent bool
}

func (t Text) AsObject() Object {
	size := t.Size
	if size == 0 {
		size = 16
	}
	color := t.Color
	if color == "" {
		color = "#000000"
	}
	font := t.Font
	if font == "" {
		font = "Arial"
	}
	return Object{
		"uuid":        t.UUID,
		"text":        t.Text,
		"x":           t.X,
		"y":           t.Y,
		"size":        size,
		"color":       color,
		"font":        font,
		"depth":       defaultDepth(t.Depth),
		"object_type": ObjectTypeText,
		"permanent":   t.Permanent,
	}
}

// AtlasSpec names a texture atlas for the rendering collaborator to preload.
type AtlasSpec struct {
	Name      string `json:"name"`
	ImgPath   string `json:"img_path"`
	AtlasPath string `json:"atlas_path"`
}

func (a AtlasSpec) AsObject() Object {
	return Object{
		"name":        a.Name,
		"img_path":    a.ImgPath,
		"atlas_path":  a.AtlasPath,
		"object_type": ObjectTypeAtlas,
	}
}

// MultiAtlasSpec names a multi-texture atlas for preloading.
type MultiAtlasSpec struct {
	Name      string `json:"name"`
	ImgPath   string `json:"img_path"`
	AtlasPath string `json:"atlas_path"`
}

func (a MultiAtlasSpec) AsObject() Object {
	return Object{
		"name":        a.Name,
		"img_path":    a.ImgPath,
		"atlas_path":  a.AtlasPath,
		"object_type": ObjectTypeMultiAtlas,
	}
}

// ImgSpec names a standalone image for preloading.
type ImgSpec struct {
	Name    string `json:"name"`
	ImgPath string `json:"img_path"`
}

func (i ImgSpec) AsObject() Object {
	return Object{
		"name":        i.Name,
		"img_path":    i.ImgPath,
		"object_type": ObjectTypeImg,
	}
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intOrNil(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func defaultDepth(d int) int {
	if d == 0 {
		return -1
	}
	return d
}

func pointsToAny(points [][2]float64) []any {
	out := make([]any, len(points))
	for i, p := range points {
		out[i] = []any{p[0], p[1]}
	}
	return out
}
