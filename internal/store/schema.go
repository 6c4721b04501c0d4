package store

// schema is idempotent and applied on every Open.
const schema = `
CREATE TABLE IF NOT EXISTS models (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	size TEXT NOT NULL DEFAULT '',
	requires TEXT NOT NULL DEFAULT '',
	architecture TEXT NOT NULL DEFAULT '',
	released_at TEXT NOT NULL DEFAULT '',
	prompt_template TEXT NOT NULL DEFAULT '',
	reverse_prompt TEXT NOT NULL DEFAULT '',
	context_size INTEGER NOT NULL DEFAULT 0,
	author_name TEXT NOT NULL DEFAULT '',
	author_url TEXT NOT NULL DEFAULT '',
	author_description TEXT NOT NULL DEFAULT '',
	like_count INTEGER NOT NULL DEFAULT 0,
	download_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS download_files (
	id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	name TEXT NOT NULL,
	size TEXT NOT NULL DEFAULT '',
	quantization TEXT NOT NULL DEFAULT '',
	prompt_template TEXT NOT NULL DEFAULT '',
	reverse_prompt TEXT NOT NULL DEFAULT '',
	context_size INTEGER NOT NULL DEFAULT 1024,
	file_size INTEGER NOT NULL DEFAULT 0,
	download_dir TEXT NOT NULL,
	downloaded_at TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	featured INTEGER NOT NULL DEFAULT 0,
	sha256 TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_download_files_model_id ON download_files (model_id);

CREATE TABLE IF NOT EXISTS pending_downloads (
	file_id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	name TEXT NOT NULL,
	size TEXT NOT NULL DEFAULT '',
	quantization TEXT NOT NULL DEFAULT '',
	prompt_template TEXT NOT NULL DEFAULT '',
	reverse_prompt TEXT NOT NULL DEFAULT '',
	context_size INTEGER NOT NULL DEFAULT 1024,
	file_size INTEGER NOT NULL DEFAULT 0,
	download_dir TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	sha256 TEXT NOT NULL DEFAULT '',
	progress REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'initializing',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`

// modelColumns selects a models row joined as m; missing rows scan as zero values.
const modelColumns = `COALESCE(m.name, ''), COALESCE(m.summary, ''), COALESCE(m.size, ''),
	COALESCE(m.requires, ''), COALESCE(m.architecture, ''), COALESCE(m.released_at, ''),
	COALESCE(m.prompt_template, ''), COALESCE(m.reverse_prompt, ''), COALESCE(m.context_size, 0),
	COALESCE(m.author_name, ''), COALESCE(m.author_url, ''), COALESCE(m.author_description, ''),
	COALESCE(m.like_count, 0), COALESCE(m.download_count, 0)`
