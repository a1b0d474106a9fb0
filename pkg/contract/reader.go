package contract

import "context"

// Reader: 上传来源抽象（本地文件等）。
// 约束：
// 1) 在读取任何字节前按后缀拒绝不支持的格式（ErrUnsupportedFormat）；
// 2) 不做解码/业务解析，仅提供字节；
// 3) 不在内部起并发。
type Reader interface {
	Load(ctx context.Context, path string) (Upload, error)
}

// Normalizer: Input Normalizer，将上传转换为有界 Content Excerpt。
// 约束：
// 1) 不支持的后缀：ErrUnsupportedFormat，不产生摘录；
// 2) 容器不可解析：*ParseError（携带底层原因）；
// 3) 截断仅保留前缀，Truncated 标志精确反映是否发生截断；
// 4) 纯函数式：同一输入与上界得到同一输出。
type Normalizer interface {
	Normalize(ctx context.Context, up Upload, b Bounds) (Excerpt, error)
}
