package model

import "encoding/json"

// Optional records whether a JSON member was present, so an explicit null
// can be told apart from a missing member.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON is only called when the member is present.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// BlogPatch is a partial update of a post. Only members present in the
// request are applied; id, slug and timestamps are not patchable.
type BlogPatch struct {
	Title       Optional[string]     `json:"title"`
	Excerpt     Optional[string]     `json:"excerpt"`
	Content     Optional[string]     `json:"content"`
	Author      Optional[string]     `json:"author"`
	Tags        Optional[[]string]   `json:"tags"`
	CoverImage  Optional[string]     `json:"coverImage"`
	Status      Optional[BlogStatus] `json:"status"`
	PublishedAt Optional[string]     `json:"publishedAt"`
}

// Empty reports whether the patch changes nothing.
func (p BlogPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields returns the stored attribute names and values the patch sets. A nil
// value clears the attribute.
func (p BlogPatch) Fields() map[string]any {
	out := map[string]any{}
	setString := func(name string, o Optional[string]) {
		if !o.Set {
			return
		}
		if o.Value == nil {
			out[name] = nil
			return
		}
		out[name] = *o.Value
	}
	setString("title", p.Title)
	setString("excerpt", p.Excerpt)
	setString("content", p.Content)
	setString("author", p.Author)
	setString("coverImage", p.CoverImage)
	setString("publishedAt", p.PublishedAt)
	if p.Tags.Set {
		tags := []string{}
		if p.Tags.Value != nil {
			tags = *p.Tags.Value
		}
		out["tags"] = tags
	}
	if p.Status.Set {
		if p.Status.Value == nil {
			out["status"] = nil
		} else {
			out["status"] = string(*p.Status.Value)
		}
	}
	return out
}

// Apply returns post with the patch applied, without touching the original.
func (p BlogPatch) Apply(post BlogPost) BlogPost {
	str := func(o Optional[string], cur string) string {
		if !o.Set {
			return cur
		}
		if o.Value == nil {
			return ""
		}
		return *o.Value
	}
	post.Title = str(p.Title, post.Title)
	post.Excerpt = str(p.Excerpt, post.Excerpt)
	post.Content = str(p.Content, post.Content)
	post.Author = str(p.Author, post.Author)
	post.CoverImage = str(p.CoverImage, post.CoverImage)
	if p.Tags.Set {
		post.Tags = nil
		if p.Tags.Value != nil {
			post.Tags = append([]string(nil), (*p.Tags.Value)...)
		}
	}
	if p.Status.Set {
		post.Status = ""
		if p.Status.Value != nil {
			post.Status = *p.Status.Value
		}
	}
	if p.PublishedAt.Set {
		post.PublishedAt = p.PublishedAt.Value
	}
	return post
}

// Input returns the caller-editable part of the post.
func (b BlogPost) Input() BlogInput {
	return BlogInput{
		Title:       b.Title,
		Excerpt:     b.Excerpt,
		Content:     b.Content,
		Author:      b.Author,
		Tags:        b.Tags,
		CoverImage:  b.CoverImage,
		Status:      b.Status,
		PublishedAt: b.PublishedAt,
	}
}
