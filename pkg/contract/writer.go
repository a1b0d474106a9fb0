package contract

import (
	"context"
	"io"
)

// ArtifactID: 导出工件标识（文件名，如 ai_response.xlsx）。
type ArtifactID string

// ArtifactBase: 导出文件名约定前缀。
const ArtifactBase = "ai_response"

// ExportInput: Export Serializer 的输入。
// Answer 为抽取前的原始回答；Payload 可为 nil；Columns 为调用方选择的列（按调用方顺序）。
type ExportInput struct {
	Answer  Answer
	Payload *Payload
	Columns []string
}

// Exporter: 单一目标格式的序列化器。
// 约束：
//  1. 各格式独立产出，不共享中间表示；
//  2. 需要结构化数据的格式（NeedsPayload）在 Payload 为 nil 时返回 ErrNoStructuredData；
//  3. 列顺序与调用方一致，缺失键渲染为空串。
type Exporter interface {
	Export(ctx context.Context, in ExportInput) ([]byte, error)
	// FileExtension 返回带点的扩展名（例如 ".xlsx"）。
	FileExtension() string
	MimeType() string
	NeedsPayload() bool
}

// Writer: 将导出工件以流式方式持久化到目标介质（文件系统等）。
// 约束：
//  1. ArtifactID 为单一文件名，不含目录；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
//
// 返回实际写入的位置（同名冲突时实现可能改名）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) (string, error)
}

// SelectedColumns 返回待渲染的列：调用方未选择时取载荷全部键。
func (in ExportInput) SelectedColumns() []string {
	if len(in.Columns) > 0 {
		return in.Columns
	}
	if in.Payload == nil {
		return nil
	}
	return in.Payload.Keys
}

// FileName 返回导出文件名（ai_response + 扩展名）。
func FileName(e Exporter) string { return ArtifactBase + e.FileExtension() }
