//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart -lcuda -lnvrtc

#include <stdlib.h>

// Forward declarations of the runtime, driver and NVRTC entry points so the
// package builds without the CUDA headers. Linking still needs the libraries.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaGetLastError(void);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaDeviceSynchronize(void);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);
extern cudaError_t cudaMallocHost(void** ptr, unsigned long long size);
extern cudaError_t cudaFreeHost(void* ptr);

#define VS_MEMCPY_HOST_TO_DEVICE 1
#define VS_MEMCPY_DEVICE_TO_HOST 2

typedef int CUresult;
typedef int CUdevice;
typedef struct CUctx_st* CUcontext;
typedef struct CUmod_st* CUmodule;
typedef struct CUfunc_st* CUfunction;

extern CUresult cuInit(unsigned int flags);
extern CUresult cuDeviceGet(CUdevice* device, int ordinal);
extern CUresult cuDeviceGetName(char* name, int len, CUdevice dev);
extern CUresult cuDevicePrimaryCtxRetain(CUcontext* pctx, CUdevice dev);
extern CUresult cuCtxSetCurrent(CUcontext ctx);
extern CUresult cuModuleLoadData(CUmodule* module, const void* image);
extern CUresult cuModuleUnload(CUmodule hmod);
extern CUresult cuModuleGetFunction(CUfunction* hfunc, CUmodule hmod, const char* name);
extern CUresult cuLaunchKernel(CUfunction f,
	unsigned int gridDimX, unsigned int gridDimY, unsigned int gridDimZ,
	unsigned int blockDimX, unsigned int blockDimY, unsigned int blockDimZ,
	unsigned int sharedMemBytes, cudaStream_t hStream,
	void** kernelParams, void** extra);

typedef struct _nvrtcProgram* nvrtcProgram;
typedef int nvrtcResult;

extern const char* nvrtcGetErrorString(nvrtcResult result);
extern nvrtcResult nvrtcCreateProgram(nvrtcProgram* prog, const char* src, const char* name,
	int numHeaders, const char* const* headers, const char* const* includeNames);
extern nvrtcResult nvrtcCompileProgram(nvrtcProgram prog, int numOptions, const char* const* options);
extern nvrtcResult nvrtcGetPTXSize(nvrtcProgram prog, unsigned long long* ptxSizeRet);
extern nvrtcResult nvrtcGetPTX(nvrtcProgram prog, char* ptx);
extern nvrtcResult nvrtcGetProgramLogSize(nvrtcProgram prog, unsigned long long* logSizeRet);
extern nvrtcResult nvrtcGetProgramLog(nvrtcProgram prog, char* log);
extern nvrtcResult nvrtcDestroyProgram(nvrtcProgram* prog);

static const char* vsCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int vsCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int vsCudaGetLastError(void) {
	return (int)cudaGetLastError();
}

// cudaFree(0) forces the runtime to create the device's primary context.
static int vsCudaInit(int ordinal) {
	cudaError_t err = cudaSetDevice(ordinal);
	if (err != 0) {
		return (int)err;
	}
	return (int)cudaFree(0);
}

static int vsCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int vsCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int vsCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int vsCudaDeviceSynchronize(void) {
	return (int)cudaDeviceSynchronize();
}

static int vsCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int vsCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int vsCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, src, size, kind, stream);
}

static int vsCudaMallocHost(void** ptr, unsigned long long size) {
	return (int)cudaMallocHost(ptr, size);
}

static int vsCudaFreeHost(void* ptr) {
	return (int)cudaFreeHost(ptr);
}

static int vsCuDeviceName(int ordinal, char* name, int len) {
	CUdevice dev;
	CUresult res = cuInit(0);
	if (res != 0) {
		return (int)res;
	}
	res = cuDeviceGet(&dev, ordinal);
	if (res != 0) {
		return (int)res;
	}
	return (int)cuDeviceGetName(name, len, dev);
}

static int vsCuPrimaryContext(int ordinal, CUcontext* out) {
	CUdevice dev;
	CUresult res = cuInit(0);
	if (res != 0) {
		return (int)res;
	}
	res = cuDeviceGet(&dev, ordinal);
	if (res != 0) {
		return (int)res;
	}
	return (int)cuDevicePrimaryCtxRetain(out, dev);
}

static int vsCuModuleLoad(CUcontext ctx, const void* image, CUmodule* out) {
	CUresult res = cuCtxSetCurrent(ctx);
	if (res != 0) {
		return (int)res;
	}
	return (int)cuModuleLoadData(out, image);
}

static int vsCuModuleUnload(CUcontext ctx, CUmodule mod) {
	CUresult res = cuCtxSetCurrent(ctx);
	if (res != 0) {
		return (int)res;
	}
	return (int)cuModuleUnload(mod);
}

static int vsCuModuleFunction(CUmodule mod, const char* name, CUfunction* out) {
	return (int)cuModuleGetFunction(out, mod, name);
}

// The context is made current on every launch because the calling goroutine
// may run on any OS thread.
static int vsCuLaunchVecAdd(CUcontext ctx, CUfunction f, unsigned int grid, unsigned int block,
	cudaStream_t stream, void* in1, void* in2, void* out, int n) {
	CUresult res = cuCtxSetCurrent(ctx);
	if (res != 0) {
		return (int)res;
	}
	void* args[] = { &in1, &in2, &out, &n };
	return (int)cuLaunchKernel(f, grid, 1, 1, block, 1, 1, 0, stream, args, 0);
}

static const char* vsNvrtcGetErrorString(nvrtcResult res) {
	return nvrtcGetErrorString(res);
}

static int vsNvrtcCreate(nvrtcProgram* prog, const char* src, const char* name) {
	return (int)nvrtcCreateProgram(prog, src, name, 0, 0, 0);
}

static int vsNvrtcCompile(nvrtcProgram prog) {
	return (int)nvrtcCompileProgram(prog, 0, 0);
}

static int vsNvrtcPTXSize(nvrtcProgram prog, unsigned long long* size) {
	return (int)nvrtcGetPTXSize(prog, size);
}

static int vsNvrtcPTX(nvrtcProgram prog, char* ptx) {
	return (int)nvrtcGetPTX(prog, ptx);
}

static int vsNvrtcLogSize(nvrtcProgram prog, unsigned long long* size) {
	return (int)nvrtcGetProgramLogSize(prog, size);
}

static int vsNvrtcLog(nvrtcProgram prog, char* log) {
	return (int)nvrtcGetProgramLog(prog, log);
}

static int vsNvrtcDestroy(nvrtcProgram* prog) {
	return (int)nvrtcDestroyProgram(prog);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type Stream struct {
	ptr C.cudaStream_t
}

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

type HostBuffer struct {
	ptr   unsafe.Pointer
	bytes int64
}

// Context is a retained primary context.
type Context struct {
	ptr C.CUcontext
}

type Module struct {
	ptr C.CUmodule
}

type Function struct {
	ptr C.CUfunction
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.vsCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func DeviceName(ordinal int) (string, error) {
	buf := make([]byte, 256)
	if err := driverErr(C.vsCuDeviceName(C.int(ordinal), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))); err != nil {
		return "", err
	}
	return C.GoString((*C.char)(unsafe.Pointer(&buf[0]))), nil
}

// Init selects the device and returns its primary context.
func Init(ordinal int) (Context, error) {
	if err := cudaErr(C.vsCudaInit(C.int(ordinal))); err != nil {
		return Context{}, err
	}
	var ctx C.CUcontext
	if err := driverErr(C.vsCuPrimaryContext(C.int(ordinal), &ctx)); err != nil {
		return Context{}, err
	}
	return Context{ptr: ctx}, nil
}

// LastError returns and clears the runtime's last error.
func LastError() error {
	return cudaErr(C.vsCudaGetLastError())
}

func DeviceSynchronize() error {
	return cudaErr(C.vsCudaDeviceSynchronize())
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.vsCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.vsCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.vsCudaStreamSynchronize(s.ptr))
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.vsCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.vsCudaFree(b.ptr))
}

func AllocHostPinned(bytes int64) (HostBuffer, error) {
	if bytes <= 0 {
		return HostBuffer{}, fmt.Errorf("host alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.vsCudaMallocHost((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return HostBuffer{}, err
	}
	return HostBuffer{ptr: ptr, bytes: bytes}, nil
}

func (b HostBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.vsCudaFreeHost(b.ptr))
}

func (b HostBuffer) Bytes() int64 {
	return b.bytes
}

// Float32s views the pinned memory as n float32 values.
func (b HostBuffer) Float32s(n int) []float32 {
	if b.ptr == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*float32)(b.ptr), n)
}

func MemcpyH2DAsync(dst DeviceBuffer, src HostBuffer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.vsCudaMemcpyAsync(dst.ptr, src.ptr, C.ulonglong(bytes), C.VS_MEMCPY_HOST_TO_DEVICE, stream.ptr))
}

func MemcpyD2HAsync(dst HostBuffer, src DeviceBuffer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.vsCudaMemcpyAsync(dst.ptr, src.ptr, C.ulonglong(bytes), C.VS_MEMCPY_DEVICE_TO_HOST, stream.ptr))
}

// CompilePTX compiles CUDA C source to PTX with NVRTC. The compiler log is
// included in the error on failure.
func CompilePTX(src, name string) ([]byte, error) {
	csrc := C.CString(src)
	defer C.free(unsafe.Pointer(csrc))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var prog C.nvrtcProgram
	if err := nvrtcErr(C.vsNvrtcCreate(&prog, csrc, cname)); err != nil {
		return nil, err
	}
	defer func() { C.vsNvrtcDestroy(&prog) }()

	if err := nvrtcErr(C.vsNvrtcCompile(prog)); err != nil {
		var logSize C.ulonglong
		if C.vsNvrtcLogSize(prog, &logSize) == 0 && logSize > 1 {
			log := make([]byte, int(logSize))
			if C.vsNvrtcLog(prog, (*C.char)(unsafe.Pointer(&log[0]))) == 0 {
				return nil, fmt.Errorf("%w: %s", err, string(log[:len(log)-1]))
			}
		}
		return nil, err
	}

	var size C.ulonglong
	if err := nvrtcErr(C.vsNvrtcPTXSize(prog, &size)); err != nil {
		return nil, err
	}
	ptx := make([]byte, int(size))
	if err := nvrtcErr(C.vsNvrtcPTX(prog, (*C.char)(unsafe.Pointer(&ptx[0])))); err != nil {
		return nil, err
	}
	return ptx, nil
}

// LoadModule loads NUL-terminated PTX into ctx.
func LoadModule(ctx Context, ptx []byte) (Module, error) {
	if len(ptx) == 0 || ptx[len(ptx)-1] != 0 {
		return Module{}, fmt.Errorf("ptx image must be NUL-terminated")
	}
	image := C.CBytes(ptx)
	defer C.free(image)
	var mod C.CUmodule
	if err := driverErr(C.vsCuModuleLoad(ctx.ptr, image, &mod)); err != nil {
		return Module{}, err
	}
	return Module{ptr: mod}, nil
}

func (m Module) Unload(ctx Context) error {
	if m.ptr == nil {
		return nil
	}
	return driverErr(C.vsCuModuleUnload(ctx.ptr, m.ptr))
}

func (m Module) Function(name string) (Function, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.CUfunction
	if err := driverErr(C.vsCuModuleFunction(m.ptr, cname, &fn)); err != nil {
		return Function{}, err
	}
	return Function{ptr: fn}, nil
}

// LaunchVecAdd queues fn<<<grid, block>>>(in1, in2, out, n) on stream.
func LaunchVecAdd(ctx Context, fn Function, grid, block int, stream Stream, in1, in2, out DeviceBuffer, n int) error {
	return driverErr(C.vsCuLaunchVecAdd(ctx.ptr, fn.ptr, C.uint(grid), C.uint(block), stream.ptr,
		in1.ptr, in2.ptr, out.ptr, C.int(n)))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.vsCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}

func driverErr(code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("cuda driver error %d", int(code))
}

func nvrtcErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.vsNvrtcGetErrorString(C.nvrtcResult(code)))
	return fmt.Errorf("nvrtc error %d: %s", int(code), msg)
}
