package po

// EntityKind 标识持有图片 URL 的业务实体类型。
// 远端存储路径与回写目标表都由它决定。
type EntityKind string

const (
	EntityKindCreator EntityKind = "creator"
	EntityKindVideo   EntityKind = "video"
)

// Valid reports whether the kind is one the pipeline knows how to write back.
func (k EntityKind) Valid() bool {
	return k == EntityKindCreator || k == EntityKindVideo
}
