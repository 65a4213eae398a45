package models

// Направления листания.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// Порядки сортировки.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ListParams — параметры постраничной выдачи мастер-данных.
//   - Search — подстрока (без учёта регистра) по фиксированным полям вида;
//     применяется к уже выбранной странице, а не ко всей коллекции.
//   - Filters — равенство по полям (status, category, ...), та же семантика.
//   - SortBy/SortOrder передаются в хранилище; смена любого делает курсоры недействительными.
//   - Cursor + Direction: forward — после строки курсора, backward — страница перед ней.
//   - PageSize: 0 -> лимит по умолчанию, сверху ограничен максимумом.
type ListParams struct {
	Search    string
	Filters   map[string]string
	SortBy    string
	SortOrder string
	Cursor    string
	Direction string
	PageSize  int
}

// Page — результат постраничной выдачи.
// len(Items) <= размер страницы; HasMore истинно, если хранилище вернуло строку сверх страницы.
type Page[T any] struct {
	Items       []T    `json:"items"`
	FirstCursor string `json:"first_cursor"`
	LastCursor  string `json:"last_cursor"`
	HasMore     bool   `json:"has_more"`
}

// Patch — частичное обновление: имя поля (json/bson) -> новое значение.
type Patch map[string]any
